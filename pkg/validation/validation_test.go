package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/unuxt/unuxt/pkg/errdefs"
	"github.com/unuxt/unuxt/pkg/roles"
)

func TestEmail(t *testing.T) {
	t.Run("valid addresses are lowercased", func(t *testing.T) {
		email, err := Email("User@Example.COM")
		assert.NoError(t, err)
		assert.Equal(t, "user@example.com", email)
	})

	t.Run("invalid addresses rejected", func(t *testing.T) {
		for _, in := range []string{"", "not-an-email", "a@", "@x.com", "a b@x.com", "a@x.com extra"} {
			_, err := Email(in)
			assert.Error(t, err, "expected %q to fail", in)
			assert.True(t, errors.Is(err, errdefs.ErrInvalidArgument))
		}
	})
}

func TestPassword(t *testing.T) {
	cases := []struct {
		name     string
		password string
		wantErr  string
	}{
		{"valid", "Str0ng!Password", ""},
		{"too short", "S1!a", "at least 8"},
		{"too long", "Aa1!" + strings.Repeat("x", 100), "less than 100"},
		{"no uppercase", "weakpass1!", "uppercase"},
		{"no lowercase", "WEAKPASS1!", "lowercase"},
		{"no number", "WeakPass!!", "number"},
		{"no special", "WeakPass11", "special"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Password(tc.password)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestCheckPasswordStrength(t *testing.T) {
	t.Run("strong password", func(t *testing.T) {
		result := CheckPasswordStrength("MyV3ry$ecurePass")
		assert.Equal(t, StrengthStrong, result.Strength)
		assert.True(t, result.IsValid)
		assert.Empty(t, result.Feedback)
	})

	t.Run("weak password gets feedback", func(t *testing.T) {
		result := CheckPasswordStrength("abc")
		assert.Equal(t, StrengthWeak, result.Strength)
		assert.False(t, result.IsValid)
		assert.Contains(t, result.Feedback, "Use at least 8 characters")
		assert.Contains(t, result.Feedback, "Add uppercase letters")
	})

	t.Run("fair password", func(t *testing.T) {
		result := CheckPasswordStrength("lowercase1")
		assert.Equal(t, StrengthFair, result.Strength)
		assert.False(t, result.IsValid)
	})
}

func TestSlug(t *testing.T) {
	assert.NoError(t, Slug("acme-corp"))
	assert.NoError(t, Slug("a1-b2-c3"))

	assert.Error(t, Slug("ab"))
	assert.Error(t, Slug(strings.Repeat("a", 51)))
	assert.Error(t, Slug("Has-Caps"))
	assert.Error(t, Slug("under_score"))
	assert.Error(t, Slug("white space"))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "acme-corp", Slugify("Acme Corp"))
	assert.Equal(t, "my-org-2", Slugify("  My Org 2!  "))
	assert.Equal(t, "", Slugify("日本語"))
	assert.LessOrEqual(t, len(Slugify(strings.Repeat("long name ", 20))), SlugMaxLength)
}

func TestName(t *testing.T) {
	assert.NoError(t, Name("Jo"))
	assert.Error(t, Name("J"))
	assert.Error(t, Name(strings.Repeat("x", 101)))
	// rune count, not byte count
	assert.NoError(t, Name("日本"))
}

func TestRoleValidation(t *testing.T) {
	assert.NoError(t, InvitationRole(roles.RoleAdmin))
	assert.NoError(t, InvitationRole(roles.RoleMember))
	assert.Error(t, InvitationRole(roles.RoleOwner))
	assert.Error(t, InvitationRole(roles.Role("root")))

	assert.NoError(t, MemberRole(roles.RoleOwner))
	assert.Error(t, MemberRole(roles.Role("")))
}
