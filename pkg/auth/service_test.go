package auth

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unuxt/unuxt/pkg/errdefs"
	"github.com/unuxt/unuxt/pkg/roles"
)

func newTestService(t *testing.T) (*PostgresService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresService(db), mock
}

func TestCreateUser(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WithArgs(sqlmock.AnyArg(), "alice@example.com", false, sqlmock.AnyArg(), sqlmock.AnyArg(), roles.GlobalRoleUser).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
				AddRow(time.Now(), time.Now()))

		user := &User{Email: "alice@example.com", Name: "Alice"}
		err := service.CreateUser(context.Background(), user)
		require.NoError(t, err)

		assert.NotEmpty(t, user.ID)
		assert.Equal(t, roles.GlobalRoleUser, user.Role)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WillReturnError(&pq.Error{Code: "23505"})

		err := service.CreateUser(context.Background(), &User{Email: "alice@example.com"})
		assert.True(t, errors.Is(err, errdefs.ErrConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetUser(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, email, email_verified, name, image, role, created_at, updated_at
		FROM users WHERE id = $1`)).
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "email_verified", "name", "image", "role", "created_at", "updated_at"}).
				AddRow("user-1", "alice@example.com", true, "Alice", nil, "user", time.Now(), time.Now()))

		user, err := service.GetUser(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.Equal(t, "Alice", user.Name)
		assert.Empty(t, user.Image)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectQuery(`SELECT .+ FROM users WHERE id`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := service.GetUser(context.Background(), "missing")
		assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	})
}

func TestUpdateUser(t *testing.T) {
	t.Run("updates name", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET name = $1, updated_at = NOW() WHERE id = $2`)).
			WithArgs("New Name", "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		name := "New Name"
		err := service.UpdateUser(context.Background(), "user-1", &UpdateUserRequest{Name: &name})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no fields is a no-op", func(t *testing.T) {
		service, mock := newTestService(t)

		err := service.UpdateUser(context.Background(), "user-1", &UpdateUserRequest{})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectExec(`UPDATE users SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		name := "New Name"
		err := service.UpdateUser(context.Background(), "missing", &UpdateUserRequest{Name: &name})
		assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	})
}

func TestAuthenticate(t *testing.T) {
	hash, err := HashPassword("Correct-Horse9", DefaultArgon2Params)
	require.NoError(t, err)

	userRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "email", "email_verified", "name", "image", "role", "created_at", "updated_at", "password_hash"}).
			AddRow("user-1", "alice@example.com", true, "Alice", nil, "user", time.Now(), time.Now(), hash)
	}

	t.Run("success", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectQuery(`SELECT .+ FROM users u\s+JOIN credentials c`).
			WithArgs("alice@example.com").
			WillReturnRows(userRows())

		user, err := service.Authenticate(context.Background(), "alice@example.com", "Correct-Horse9")
		require.NoError(t, err)
		assert.Equal(t, "user-1", user.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectQuery(`SELECT .+ FROM users u\s+JOIN credentials c`).
			WithArgs("alice@example.com").
			WillReturnRows(userRows())

		_, err := service.Authenticate(context.Background(), "alice@example.com", "Wrong-Horse9")
		assert.True(t, errors.Is(err, errdefs.ErrUnauthorized))
	})

	t.Run("unknown email looks identical to wrong password", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectQuery(`SELECT .+ FROM users u\s+JOIN credentials c`).
			WithArgs("nobody@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := service.Authenticate(context.Background(), "nobody@example.com", "whatever")
		assert.True(t, errors.Is(err, errdefs.ErrUnauthorized))
		assert.Contains(t, err.Error(), "invalid email or password")
	})
}

func TestCreateSession(t *testing.T) {
	service, mock := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO sessions`)).
		WithArgs(sqlmock.AnyArg(), "user-1", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
			AddRow(time.Now(), time.Now()))

	session, err := service.CreateSession(context.Background(), "user-1", "10.0.0.1", "curl/8.0", 30*24*time.Hour)
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.NoError(t, ValidateTokenFormat(session.Token))
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), session.ExpiresAt, time.Minute)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveSession(t *testing.T) {
	token := "unuxt_dGVzdHRva2VuZGF0YXRlc3R0b2tlbmRhdGE"

	sessionRows := func(expiresAt, updatedAt time.Time) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "expires_at", "updated_at", "user_id", "email", "email_verified", "role"}).
			AddRow("sess-1", expiresAt, updatedAt, "user-1", "alice@example.com", true, "user")
	}

	t.Run("valid session", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectQuery(`SELECT .+ FROM sessions s\s+JOIN users u`).
			WithArgs(HashToken(token)).
			WillReturnRows(sessionRows(time.Now().Add(time.Hour), time.Now()))

		info, err := service.ResolveSession(context.Background(), token, 24*time.Hour, 30*24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, "user-1", info.UserID)
		assert.Equal(t, roles.GlobalRoleUser, info.Role)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale session gets sliding refresh", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectQuery(`SELECT .+ FROM sessions s\s+JOIN users u`).
			WithArgs(HashToken(token)).
			WillReturnRows(sessionRows(time.Now().Add(time.Hour), time.Now().Add(-48*time.Hour)))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET expires_at`)).
			WithArgs(sqlmock.AnyArg(), "sess-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := service.ResolveSession(context.Background(), token, 24*time.Hour, 30*24*time.Hour)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired session is removed and rejected", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectQuery(`SELECT .+ FROM sessions s\s+JOIN users u`).
			WithArgs(HashToken(token)).
			WillReturnRows(sessionRows(time.Now().Add(-time.Minute), time.Now()))
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sessions WHERE id = $1`)).
			WithArgs("sess-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := service.ResolveSession(context.Background(), token, 24*time.Hour, 30*24*time.Hour)
		assert.True(t, errors.Is(err, errdefs.ErrUnauthorized))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown token", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectQuery(`SELECT .+ FROM sessions s\s+JOIN users u`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := service.ResolveSession(context.Background(), token, 24*time.Hour, 30*24*time.Hour)
		assert.True(t, errors.Is(err, errdefs.ErrUnauthorized))
	})

	t.Run("malformed token skips the database", func(t *testing.T) {
		service, mock := newTestService(t)

		_, err := service.ResolveSession(context.Background(), "garbage", 24*time.Hour, 30*24*time.Hour)
		assert.True(t, errors.Is(err, errdefs.ErrUnauthorized))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestConsumeLoginToken(t *testing.T) {
	token := "unuxt_dGVzdHRva2VuZGF0YXRlc3R0b2tlbmRhdGE"

	tokenRows := func(expiresAt time.Time, consumedAt interface{}) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "email", "purpose", "expires_at", "consumed_at", "created_at"}).
			AddRow("tok-1", "alice@example.com", "magic_link", expiresAt, consumedAt, time.Now())
	}

	t.Run("success", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .+ FROM login_tokens\s+WHERE token_hash = \$1\s+FOR UPDATE`).
			WithArgs(HashToken(token)).
			WillReturnRows(tokenRows(time.Now().Add(10*time.Minute), nil))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE login_tokens SET consumed_at = NOW()`)).
			WithArgs("tok-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		lt, err := service.ConsumeLoginToken(context.Background(), token, PurposeMagicLink)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", lt.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already consumed", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .+ FROM login_tokens`).
			WithArgs(HashToken(token)).
			WillReturnRows(tokenRows(time.Now().Add(10*time.Minute), time.Now()))
		mock.ExpectRollback()

		_, err := service.ConsumeLoginToken(context.Background(), token, PurposeMagicLink)
		assert.True(t, errors.Is(err, errdefs.ErrInvalidState))
	})

	t.Run("expired", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .+ FROM login_tokens`).
			WithArgs(HashToken(token)).
			WillReturnRows(tokenRows(time.Now().Add(-time.Minute), nil))
		mock.ExpectRollback()

		_, err := service.ConsumeLoginToken(context.Background(), token, PurposeMagicLink)
		assert.True(t, errors.Is(err, errdefs.ErrExpired))
	})

	t.Run("purpose mismatch reads as not found", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .+ FROM login_tokens`).
			WithArgs(HashToken(token)).
			WillReturnRows(tokenRows(time.Now().Add(10*time.Minute), nil))
		mock.ExpectRollback()

		_, err := service.ConsumeLoginToken(context.Background(), token, PurposePasswordReset)
		assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	})
}

func TestPurgeExpired(t *testing.T) {
	service, mock := newTestService(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sessions WHERE expires_at < NOW()`)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM login_tokens`)).
		WillReturnResult(sqlmock.NewResult(0, 5))

	n, err := service.PurgeExpiredSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = service.PurgeExpiredLoginTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
