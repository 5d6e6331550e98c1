package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/unuxt/unuxt/pkg/errdefs"
	"github.com/unuxt/unuxt/pkg/roles"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresService implements the identity store using PostgreSQL.
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// CreateUser inserts a new user record. The email must already be validated
// and lowercased.
func (s *PostgresService) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = roles.GlobalRoleUser
	}

	query := `
		INSERT INTO users (id, email, email_verified, name, image, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, user.ID, user.Email, user.EmailVerified,
		nullString(user.Name), nullString(user.Image), user.Role).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return errdefs.Conflict("email %s is already registered", user.Email)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUser retrieves a user by ID.
func (s *PostgresService) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

// GetUserByEmail retrieves a user by email (case-insensitive).
func (s *PostgresService) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, `WHERE LOWER(email) = LOWER($1)`, email)
}

func (s *PostgresService) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	query := `
		SELECT id, email, email_verified, name, image, role, created_at, updated_at
		FROM users ` + where

	user := &User{}
	var name, image sql.NullString
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.EmailVerified, &name, &image,
		&user.Role, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Name = name.String
	user.Image = image.String
	return user, nil
}

// UpdateUser applies a partial profile update.
func (s *PostgresService) UpdateUser(ctx context.Context, id string, updates *UpdateUserRequest) error {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if updates.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *updates.Name)
		argPos++
	}
	if updates.Image != nil {
		setClauses = append(setClauses, fmt.Sprintf("image = $%d", argPos))
		args = append(args, nullString(*updates.Image))
		argPos++
	}

	if len(setClauses) == 0 {
		return nil
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	args = append(args, id)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errdefs.NotFound("user not found")
	}

	return nil
}

// DeleteUser removes a user. Sessions, credentials, memberships, and
// authored invitations are removed by foreign key cascade.
func (s *PostgresService) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errdefs.NotFound("user not found")
	}

	return nil
}

// MarkEmailVerified flips the verification flag for an email address.
func (s *PostgresService) MarkEmailVerified(ctx context.Context, email string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE LOWER(email) = LOWER($1)`, email)
	if err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errdefs.NotFound("user not found")
	}

	return nil
}

// SetPassword stores the password hash for a user, replacing any prior one.
func (s *PostgresService) SetPassword(ctx context.Context, userID, passwordHash string) error {
	query := `
		INSERT INTO credentials (user_id, password_hash)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, userID, passwordHash); err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	return nil
}

// Authenticate verifies an email/password pair and returns the user.
// Failures are uniformly Unauthorized so callers cannot distinguish an
// unknown email from a wrong password.
func (s *PostgresService) Authenticate(ctx context.Context, email, password string) (*User, error) {
	query := `
		SELECT u.id, u.email, u.email_verified, u.name, u.image, u.role,
		       u.created_at, u.updated_at, c.password_hash
		FROM users u
		JOIN credentials c ON c.user_id = u.id
		WHERE LOWER(u.email) = LOWER($1)
	`
	user := &User{}
	var name, image sql.NullString
	var passwordHash string
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.EmailVerified, &name, &image,
		&user.Role, &user.CreatedAt, &user.UpdatedAt, &passwordHash,
	)
	if err == sql.ErrNoRows {
		return nil, errdefs.Unauthorized("invalid email or password")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	ok, err := VerifyPassword(password, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, errdefs.Unauthorized("invalid email or password")
	}

	user.Name = name.String
	user.Image = image.String
	return user, nil
}

// CreateSession issues a new session for a user. The returned Session
// carries the raw token; only its hash is stored.
func (s *PostgresService) CreateSession(ctx context.Context, userID, ipAddress, userAgent string, ttl time.Duration) (*Session, error) {
	token, tokenHash, tokenPrefix, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	session := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Token:       token,
		TokenPrefix: tokenPrefix,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		ExpiresAt:   time.Now().Add(ttl),
	}

	query := `
		INSERT INTO sessions (id, user_id, token_hash, token_prefix, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query, session.ID, userID, tokenHash, tokenPrefix,
		nullString(ipAddress), nullString(userAgent), session.ExpiresAt).
		Scan(&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// ResolveSession validates a session token and returns the caller identity.
// A session not refreshed within updateAge gets its expiry extended by ttl
// (sliding window). Expired or unknown tokens are Unauthorized.
func (s *PostgresService) ResolveSession(ctx context.Context, token string, updateAge, ttl time.Duration) (*SessionInfo, error) {
	if err := ValidateTokenFormat(token); err != nil {
		return nil, errdefs.Unauthorized("invalid session token")
	}

	query := `
		SELECT s.id, s.expires_at, s.updated_at, u.id, u.email, u.email_verified, u.role
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1
	`
	var info SessionInfo
	var expiresAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, query, HashToken(token)).Scan(
		&info.SessionID, &expiresAt, &updatedAt,
		&info.UserID, &info.Email, &info.EmailVerified, &info.Role,
	)
	if err == sql.ErrNoRows {
		return nil, errdefs.Unauthorized("invalid session token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	if time.Now().After(expiresAt) {
		s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, info.SessionID)
		return nil, errdefs.Unauthorized("session expired")
	}

	if time.Since(updatedAt) > updateAge {
		s.db.ExecContext(ctx,
			`UPDATE sessions SET expires_at = $1, updated_at = NOW() WHERE id = $2`,
			time.Now().Add(ttl), info.SessionID)
	}

	return &info, nil
}

// DeleteSessionByToken logs out one session. Unknown tokens are a no-op.
func (s *PostgresService) DeleteSessionByToken(ctx context.Context, token string) error {
	if err := ValidateTokenFormat(token); err != nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, HashToken(token)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteUserSessions revokes every session of a user.
func (s *PostgresService) DeleteUserSessions(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// CreateLoginToken issues a single-use emailed token.
func (s *PostgresService) CreateLoginToken(ctx context.Context, email string, purpose TokenPurpose, ttl time.Duration) (*LoginToken, error) {
	token, tokenHash, _, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate login token: %w", err)
	}

	lt := &LoginToken{
		ID:        uuid.NewString(),
		Email:     strings.ToLower(email),
		Purpose:   purpose,
		Token:     token,
		ExpiresAt: time.Now().Add(ttl),
	}

	query := `
		INSERT INTO login_tokens (id, email, purpose, token_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err = s.db.QueryRowContext(ctx, query, lt.ID, lt.Email, lt.Purpose, tokenHash, lt.ExpiresAt).
		Scan(&lt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create login token: %w", err)
	}

	return lt, nil
}

// ConsumeLoginToken validates and consumes a single-use token atomically.
// The row is locked so concurrent consumption attempts serialize; the second
// caller sees InvalidState.
func (s *PostgresService) ConsumeLoginToken(ctx context.Context, token string, purpose TokenPurpose) (*LoginToken, error) {
	if err := ValidateTokenFormat(token); err != nil {
		return nil, errdefs.NotFound("login token not found")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT id, email, purpose, expires_at, consumed_at, created_at
		FROM login_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`
	lt := &LoginToken{}
	var consumedAt sql.NullTime
	err = tx.QueryRowContext(ctx, query, HashToken(token)).Scan(
		&lt.ID, &lt.Email, &lt.Purpose, &lt.ExpiresAt, &consumedAt, &lt.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("login token not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get login token: %w", err)
	}

	if lt.Purpose != purpose {
		return nil, errdefs.NotFound("login token not found")
	}
	if consumedAt.Valid {
		return nil, errdefs.InvalidState("login token already used")
	}
	if time.Now().After(lt.ExpiresAt) {
		return nil, errdefs.Expired("login token expired")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE login_tokens SET consumed_at = NOW() WHERE id = $1`, lt.ID); err != nil {
		return nil, fmt.Errorf("failed to consume login token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return lt, nil
}

// ListUsers returns a page of users ordered by creation time, plus the total
// count. For the platform admin surface.
func (s *PostgresService) ListUsers(ctx context.Context, limit, offset int) ([]*User, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	query := `
		SELECT id, email, email_verified, name, image, role, created_at, updated_at
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user := &User{}
		var name, image sql.NullString
		if err := rows.Scan(
			&user.ID, &user.Email, &user.EmailVerified, &name, &image,
			&user.Role, &user.CreatedAt, &user.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		user.Name = name.String
		user.Image = image.String
		users = append(users, user)
	}

	return users, total, nil
}

// CountUsers returns the total number of users.
func (s *PostgresService) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// PurgeExpiredSessions removes sessions past their expiry. Returns the
// number of rows removed.
func (s *PostgresService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	return result.RowsAffected()
}

// PurgeExpiredLoginTokens removes consumed or expired login tokens.
func (s *PostgresService) PurgeExpiredLoginTokens(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM login_tokens WHERE expires_at < NOW() OR consumed_at IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge login tokens: %w", err)
	}
	return result.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
