package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatching(t *testing.T) {
	t.Run("constructor matches sentinel", func(t *testing.T) {
		err := NotFound("organization %s not found", "acme")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.False(t, errors.Is(err, ErrConflict))
		assert.Equal(t, "organization acme not found", err.Error())
	})

	t.Run("wrapped errors keep their kind", func(t *testing.T) {
		cause := fmt.Errorf("duplicate key value violates unique constraint")
		err := Wrap(KindConflict, cause, "member already exists")
		assert.True(t, errors.Is(err, ErrConflict))
		assert.ErrorIs(t, err, cause)
	})

	t.Run("wrapping with fmt preserves matching", func(t *testing.T) {
		err := fmt.Errorf("accept invitation: %w", Expired("invitation expired"))
		assert.True(t, errors.Is(err, ErrExpired))
	})

	t.Run("plain errors have no kind", func(t *testing.T) {
		err := errors.New("boom")
		assert.False(t, errors.Is(err, ErrNotFound))
		assert.Equal(t, Kind(0), KindOf(err))
	})
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{Unauthorized("no session"), KindUnauthorized},
		{Forbidden("missing permission"), KindForbidden},
		{NotFound("gone"), KindNotFound},
		{Conflict("duplicate"), KindConflict},
		{Expired("too late"), KindExpired},
		{InvalidState("already accepted"), KindInvalidState},
		{InvalidArgument("bad slug"), KindInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			require.Equal(t, tc.kind, KindOf(tc.err))
			require.Equal(t, tc.kind, KindOf(fmt.Errorf("wrapped: %w", tc.err)))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "expired", KindExpired.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
