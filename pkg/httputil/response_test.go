package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unuxt/unuxt/pkg/errdefs"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"unauthorized", errdefs.Unauthorized("no session"), http.StatusUnauthorized},
		{"forbidden", errdefs.Forbidden("no permission"), http.StatusForbidden},
		{"not found", errdefs.NotFound("missing"), http.StatusNotFound},
		{"conflict", errdefs.Conflict("duplicate"), http.StatusConflict},
		{"expired", errdefs.Expired("too late"), http.StatusGone},
		{"invalid state", errdefs.InvalidState("already canceled"), http.StatusUnprocessableEntity},
		{"invalid argument", errdefs.InvalidArgument("bad slug"), http.StatusBadRequest},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped category survives", errdefs.Wrap(errdefs.KindNotFound, errors.New("sql"), "user not found"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, StatusForError(tt.err))
		})
	}
}

func TestWriteError(t *testing.T) {
	t.Run("categorized error keeps its message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, errdefs.Conflict("slug is taken"))

		assert.Equal(t, http.StatusConflict, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "slug is taken", resp.Error)
		assert.Equal(t, "conflict", resp.Code)
	})

	t.Run("internal error is opaque", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, errors.New("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "pq:")
	})
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteCreated(rec, map[string]string{"id": "x"}))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
