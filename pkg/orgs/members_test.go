package orgs

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unuxt/unuxt/pkg/errdefs"
	"github.com/unuxt/unuxt/pkg/roles"
)

func expectOrgLock(mock sqlmock.Sqlmock, orgID string) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM organizations WHERE id = $1 FOR UPDATE`)).
		WithArgs(orgID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(orgID))
}

func expectTargetRole(mock sqlmock.Sqlmock, orgID, userID, role string) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT role FROM members WHERE organization_id = $1 AND user_id = $2`)).
		WithArgs(orgID, userID).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow(role))
}

func expectOwnerCount(mock sqlmock.Sqlmock, orgID string, count int) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM members WHERE organization_id = $1 AND role = $2`)).
		WithArgs(orgID, "owner").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(count))
}

func TestListMembers(t *testing.T) {
	service, mock := newTestService(t)

	expectMemberRole(mock, "org-1", "user-1", "member")

	rows := sqlmock.NewRows([]string{"id", "organization_id", "user_id", "role", "created_at", "email", "name"}).
		AddRow("m-1", "org-1", "user-1", "owner", time.Now(), "alice@example.com", "Alice").
		AddRow("m-2", "org-1", "user-2", "member", time.Now(), "bob@example.com", nil)

	mock.ExpectQuery(`SELECT .+ FROM members m\s+JOIN users u`).
		WithArgs("org-1").
		WillReturnRows(rows)

	members, err := service.ListMembers(context.Background(), "org-1", Actor{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, roles.RoleOwner, members[0].Role)
	assert.Equal(t, "Alice", members[0].Name)
	assert.Empty(t, members[1].Name)
}

func TestUpdateMemberRole(t *testing.T) {
	t.Run("owner promotes a member", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		expectMemberRole(mock, "org-1", "owner-1", "owner")
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT role FROM members WHERE organization_id = $1 AND user_id = $2 FOR UPDATE`)).
			WithArgs("org-1", "user-2").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("member"))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE members SET role = $1`)).
			WithArgs("admin", "org-1", "user-2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.UpdateMemberRole(context.Background(), "org-1", "user-2", roles.RoleAdmin, Actor{UserID: "owner-1"})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("demoting the only owner is rejected", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		expectMemberRole(mock, "org-1", "owner-1", "owner")
		mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
			WithArgs("org-1", "owner-1").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("owner"))
		expectOwnerCount(mock, "org-1", 1)
		mock.ExpectRollback()

		err := service.UpdateMemberRole(context.Background(), "org-1", "owner-1", roles.RoleAdmin, Actor{UserID: "owner-1"})
		assert.True(t, errors.Is(err, errdefs.ErrInvalidState))
	})

	t.Run("demoting one of two owners succeeds", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		expectMemberRole(mock, "org-1", "owner-1", "owner")
		mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
			WithArgs("org-1", "owner-2").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("owner"))
		expectOwnerCount(mock, "org-1", 2)
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE members SET role = $1`)).
			WithArgs("member", "org-1", "owner-2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.UpdateMemberRole(context.Background(), "org-1", "owner-2", roles.RoleMember, Actor{UserID: "owner-1"})
		require.NoError(t, err)
	})

	t.Run("admin may not change roles", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		expectMemberRole(mock, "org-1", "admin-1", "admin")
		mock.ExpectRollback()

		err := service.UpdateMemberRole(context.Background(), "org-1", "user-2", roles.RoleAdmin, Actor{UserID: "admin-1"})
		assert.True(t, errors.Is(err, errdefs.ErrForbidden))
	})

	t.Run("invalid role", func(t *testing.T) {
		service, _ := newTestService(t)

		err := service.UpdateMemberRole(context.Background(), "org-1", "user-2", "superuser", Actor{UserID: "owner-1"})
		assert.True(t, errors.Is(err, errdefs.ErrInvalidArgument))
	})
}

func TestRemoveMember(t *testing.T) {
	t.Run("admin removes a member", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		expectOrgLock(mock, "org-1")
		expectMemberRole(mock, "org-1", "admin-1", "admin")
		expectTargetRole(mock, "org-1", "user-2", "member")
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM members WHERE organization_id = $1 AND user_id = $2`)).
			WithArgs("org-1", "user-2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		orgDeleted, err := service.RemoveMember(context.Background(), "org-1", "user-2", Actor{UserID: "admin-1"})
		require.NoError(t, err)
		assert.False(t, orgDeleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("member leaves on their own", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		expectOrgLock(mock, "org-1")
		expectMemberRole(mock, "org-1", "user-2", "member")
		expectTargetRole(mock, "org-1", "user-2", "member")
		mock.ExpectExec(`DELETE FROM members`).
			WithArgs("org-1", "user-2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		orgDeleted, err := service.RemoveMember(context.Background(), "org-1", "user-2", Actor{UserID: "user-2"})
		require.NoError(t, err)
		assert.False(t, orgDeleted)
	})

	t.Run("admin may not remove an owner", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		expectOrgLock(mock, "org-1")
		expectMemberRole(mock, "org-1", "admin-1", "admin")
		expectTargetRole(mock, "org-1", "owner-1", "owner")
		mock.ExpectRollback()

		_, err := service.RemoveMember(context.Background(), "org-1", "owner-1", Actor{UserID: "admin-1"})
		assert.True(t, errors.Is(err, errdefs.ErrForbidden))
	})

	t.Run("last owner leaving deletes the organization", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		expectOrgLock(mock, "org-1")
		expectMemberRole(mock, "org-1", "owner-1", "owner")
		expectTargetRole(mock, "org-1", "owner-1", "owner")
		expectOwnerCount(mock, "org-1", 1)
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM organizations WHERE id = $1`)).
			WithArgs("org-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		orgDeleted, err := service.RemoveMember(context.Background(), "org-1", "owner-1", Actor{UserID: "owner-1"})
		require.NoError(t, err)
		assert.True(t, orgDeleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("one of two owners leaving keeps the organization", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		expectOrgLock(mock, "org-1")
		expectMemberRole(mock, "org-1", "owner-1", "owner")
		expectTargetRole(mock, "org-1", "owner-1", "owner")
		expectOwnerCount(mock, "org-1", 2)
		mock.ExpectExec(`DELETE FROM members`).
			WithArgs("org-1", "owner-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		orgDeleted, err := service.RemoveMember(context.Background(), "org-1", "owner-1", Actor{UserID: "owner-1"})
		require.NoError(t, err)
		assert.False(t, orgDeleted)
	})

	t.Run("member not found", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		expectOrgLock(mock, "org-1")
		expectMemberRole(mock, "org-1", "admin-1", "admin")
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT role FROM members WHERE organization_id = $1 AND user_id = $2`)).
			WithArgs("org-1", "ghost").
			WillReturnRows(sqlmock.NewRows([]string{"role"}))
		mock.ExpectRollback()

		_, err := service.RemoveMember(context.Background(), "org-1", "ghost", Actor{UserID: "admin-1"})
		assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	})
}

func TestAddMember(t *testing.T) {
	t.Run("admin adds a member directly", func(t *testing.T) {
		service, mock := newTestService(t)

		expectMemberRole(mock, "org-1", "admin-1", "admin")
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO members`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectMemberRole(mock, "org-1", "admin-1", "admin")
		mock.ExpectQuery(`SELECT .+ FROM members m\s+JOIN users u`).
			WithArgs("org-1", "user-2").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "organization_id", "user_id", "role", "created_at", "email", "name",
			}).AddRow("m-2", "org-1", "user-2", "member", time.Now(), "bob@example.com", "Bob"))

		member, err := service.AddMember(context.Background(), "org-1", "user-2", roles.RoleMember, Actor{UserID: "admin-1"})
		require.NoError(t, err)
		assert.Equal(t, roles.RoleMember, member.Role)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing membership is a conflict", func(t *testing.T) {
		service, mock := newTestService(t)

		expectMemberRole(mock, "org-1", "admin-1", "admin")
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO members`)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		_, err := service.AddMember(context.Background(), "org-1", "user-2", roles.RoleMember, Actor{UserID: "admin-1"})
		assert.True(t, errors.Is(err, errdefs.ErrConflict))
	})

	t.Run("plain member cannot add", func(t *testing.T) {
		service, mock := newTestService(t)

		expectMemberRole(mock, "org-1", "user-1", "member")

		_, err := service.AddMember(context.Background(), "org-1", "user-2", roles.RoleMember, Actor{UserID: "user-1"})
		assert.True(t, errors.Is(err, errdefs.ErrForbidden))
	})

	t.Run("invalid role rejected before any query", func(t *testing.T) {
		service, mock := newTestService(t)

		_, err := service.AddMember(context.Background(), "org-1", "user-2", roles.Role("superuser"), Actor{UserID: "admin-1"})
		assert.True(t, errors.Is(err, errdefs.ErrInvalidArgument))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
