// Package validation implements request input validation: email addresses,
// password policy and strength scoring, organization names and slugs, and
// invitation roles. Rules are enforced server-side regardless of what any
// client validated.
package validation

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/unuxt/unuxt/pkg/errdefs"
	"github.com/unuxt/unuxt/pkg/roles"
)

const (
	PasswordMinLength = 8
	PasswordMaxLength = 100
	NameMinLength     = 2
	NameMaxLength     = 100
	SlugMinLength     = 3
	SlugMaxLength     = 50
)

var (
	slugPattern     = regexp.MustCompile(`^[a-z0-9-]+$`)
	upperPattern    = regexp.MustCompile(`[A-Z]`)
	lowerPattern    = regexp.MustCompile(`[a-z]`)
	digitPattern    = regexp.MustCompile(`[0-9]`)
	specialPattern  = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{}|;:,.<>?]`)
)

// Email validates and normalizes an email address. The returned address is
// lowercased; invitation email matching is case-insensitive throughout.
func Email(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", errdefs.InvalidArgument("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", errdefs.InvalidArgument("invalid email address")
	}
	return strings.ToLower(email), nil
}

// Password validates the password policy: 8-100 characters with at least one
// uppercase letter, one lowercase letter, one number, and one special
// character.
func Password(password string) error {
	switch {
	case len(password) < PasswordMinLength:
		return errdefs.InvalidArgument("password must be at least %d characters", PasswordMinLength)
	case len(password) > PasswordMaxLength:
		return errdefs.InvalidArgument("password must be less than %d characters", PasswordMaxLength)
	case !upperPattern.MatchString(password):
		return errdefs.InvalidArgument("password must contain at least one uppercase letter")
	case !lowerPattern.MatchString(password):
		return errdefs.InvalidArgument("password must contain at least one lowercase letter")
	case !digitPattern.MatchString(password):
		return errdefs.InvalidArgument("password must contain at least one number")
	case !specialPattern.MatchString(password):
		return errdefs.InvalidArgument("password must contain at least one special character")
	}
	return nil
}

// PasswordStrength buckets a password into weak/fair/good/strong.
type PasswordStrength string

const (
	StrengthWeak   PasswordStrength = "weak"
	StrengthFair   PasswordStrength = "fair"
	StrengthGood   PasswordStrength = "good"
	StrengthStrong PasswordStrength = "strong"
)

// StrengthResult carries the strength bucket, a 0-5 score, and feedback for
// the user.
type StrengthResult struct {
	Strength PasswordStrength `json:"strength"`
	Score    int              `json:"score"`
	Feedback []string         `json:"feedback,omitempty"`
	IsValid  bool             `json:"is_valid"`
}

// CheckPasswordStrength scores a password and collects improvement feedback.
func CheckPasswordStrength(password string) StrengthResult {
	var feedback []string
	score := 0

	if len(password) >= 8 {
		score++
	} else {
		feedback = append(feedback, "Use at least 8 characters")
	}
	if len(password) >= 12 {
		score++
	}

	hasUpper := upperPattern.MatchString(password)
	hasLower := lowerPattern.MatchString(password)
	hasDigit := digitPattern.MatchString(password)
	hasSpecial := specialPattern.MatchString(password)

	if hasUpper && hasLower {
		score++
	}
	if hasDigit {
		score++
	}
	if hasSpecial {
		score++
	}

	if !hasUpper {
		feedback = append(feedback, "Add uppercase letters")
	}
	if !hasLower {
		feedback = append(feedback, "Add lowercase letters")
	}
	if !hasDigit {
		feedback = append(feedback, "Add numbers")
	}
	if !hasSpecial {
		feedback = append(feedback, "Add special characters (!@#$%^&*...)")
	}

	var strength PasswordStrength
	switch {
	case score <= 1:
		strength = StrengthWeak
	case score == 2:
		strength = StrengthFair
	case score == 3 || score == 4:
		strength = StrengthGood
	default:
		strength = StrengthStrong
	}

	return StrengthResult{
		Strength: strength,
		Score:    score,
		Feedback: feedback,
		IsValid:  Password(password) == nil,
	}
}

// Slug validates an organization slug: 3-50 characters of lowercase letters,
// numbers, and hyphens.
func Slug(slug string) error {
	switch {
	case len(slug) < SlugMinLength:
		return errdefs.InvalidArgument("slug must be at least %d characters", SlugMinLength)
	case len(slug) > SlugMaxLength:
		return errdefs.InvalidArgument("slug must be less than %d characters", SlugMaxLength)
	case !slugPattern.MatchString(slug):
		return errdefs.InvalidArgument("slug can only contain lowercase letters, numbers, and hyphens")
	}
	return nil
}

// Slugify derives a valid slug from a display name. Returns an empty string
// when nothing usable remains; callers must then require an explicit slug.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	slug = strings.Trim(slug, "-")
	if len(slug) > SlugMaxLength {
		slug = slug[:SlugMaxLength]
	}
	return slug
}

// Name validates a user or organization display name: 2-100 characters.
func Name(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	switch {
	case n < NameMinLength:
		return errdefs.InvalidArgument("name must be at least %d characters", NameMinLength)
	case n > NameMaxLength:
		return errdefs.InvalidArgument("name must be less than %d characters", NameMaxLength)
	}
	return nil
}

// InvitationRole validates a proposed invitation role. Only admin and member
// may be granted by invitation.
func InvitationRole(role roles.Role) error {
	if !roles.ValidInvitationRole(role) {
		return errdefs.InvalidArgument("invitation role must be %q or %q", roles.RoleAdmin, roles.RoleMember)
	}
	return nil
}

// MemberRole validates a membership role value.
func MemberRole(role roles.Role) error {
	if !role.Valid() {
		return errdefs.InvalidArgument("role must be one of %q, %q, %q", roles.RoleOwner, roles.RoleAdmin, roles.RoleMember)
	}
	return nil
}
