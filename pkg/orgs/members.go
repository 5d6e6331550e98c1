package orgs

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/unuxt/unuxt/pkg/errdefs"
	"github.com/unuxt/unuxt/pkg/roles"
	"github.com/unuxt/unuxt/pkg/validation"
)

// roleRank orders roles for the "cannot act on a higher role" checks.
func roleRank(role roles.Role) int {
	switch role {
	case roles.RoleOwner:
		return 3
	case roles.RoleAdmin:
		return 2
	case roles.RoleMember:
		return 1
	default:
		return 0
	}
}

// ListMembers retrieves all members of an organization. Requires member:read.
func (s *PostgresService) ListMembers(ctx context.Context, orgID string, actor Actor) ([]*Member, error) {
	if _, err := s.requirePermission(ctx, s.db, orgID, actor, roles.PermMemberRead); err != nil {
		return nil, err
	}

	query := `
		SELECT m.id, m.organization_id, m.user_id, m.role, m.created_at, u.email, u.name
		FROM members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1
		ORDER BY m.created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		member := &Member{}
		var name sql.NullString
		if err := rows.Scan(
			&member.ID, &member.OrganizationID, &member.UserID, &member.Role,
			&member.CreatedAt, &member.Email, &name,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		member.Name = name.String
		members = append(members, member)
	}

	return members, nil
}

// GetMember retrieves one membership. Requires member:read.
func (s *PostgresService) GetMember(ctx context.Context, orgID, userID string, actor Actor) (*Member, error) {
	if _, err := s.requirePermission(ctx, s.db, orgID, actor, roles.PermMemberRead); err != nil {
		return nil, err
	}

	query := `
		SELECT m.id, m.organization_id, m.user_id, m.role, m.created_at, u.email, u.name
		FROM members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1 AND m.user_id = $2
	`
	member := &Member{}
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, query, orgID, userID).Scan(
		&member.ID, &member.OrganizationID, &member.UserID, &member.Role,
		&member.CreatedAt, &member.Email, &name,
	)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("member not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	member.Name = name.String
	return member, nil
}

// AddMember adds an existing user to an organization directly, bypassing the
// invitation flow. Requires member:invite.
func (s *PostgresService) AddMember(ctx context.Context, orgID, userID string, role roles.Role, actor Actor) (*Member, error) {
	if err := validation.MemberRole(role); err != nil {
		return nil, err
	}
	if _, err := s.requirePermission(ctx, s.db, orgID, actor, roles.PermMemberInvite); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO members (id, organization_id, user_id, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, user_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, uuid.NewString(), orgID, userID, role)
	if isForeignKeyViolation(err) {
		return nil, errdefs.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, errdefs.Conflict("user is already a member of this organization")
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"user_id":         userID,
		"role":            role,
		"actor_id":        actor.UserID,
	}).Info("member added")

	return s.GetMember(ctx, orgID, userID, actor)
}

// UpdateMemberRole changes a member's role. Requires member:updateRole
// (owner only). Demoting the only owner is rejected so the organization
// never loses its last owner.
func (s *PostgresService) UpdateMemberRole(ctx context.Context, orgID, targetUserID string, newRole roles.Role, actor Actor) error {
	if err := validation.MemberRole(newRole); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.requirePermission(ctx, tx, orgID, actor, roles.PermMemberUpdateRole); err != nil {
		return err
	}

	var currentRole roles.Role
	err = tx.QueryRowContext(ctx,
		`SELECT role FROM members WHERE organization_id = $1 AND user_id = $2 FOR UPDATE`,
		orgID, targetUserID).Scan(&currentRole)
	if err == sql.ErrNoRows {
		return errdefs.NotFound("member not found")
	}
	if err != nil {
		return fmt.Errorf("failed to get member: %w", err)
	}

	if currentRole == newRole {
		return tx.Commit()
	}

	if currentRole == roles.RoleOwner && newRole != roles.RoleOwner {
		owners, err := s.countOwners(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return errdefs.InvalidState("cannot demote the only owner")
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE members SET role = $1 WHERE organization_id = $2 AND user_id = $3`,
		newRole, orgID, targetUserID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"user_id":         targetUserID,
		"role":            newRole,
		"actor_id":        actor.UserID,
	}).Info("member role updated")

	return nil
}

// RemoveMember removes a user from an organization. A member may always
// remove themselves; removing others requires member:remove, and never a
// member whose role outranks the actor's. Removing the only owner deletes
// the organization in the same transaction and reports orgDeleted true.
func (s *PostgresService) RemoveMember(ctx context.Context, orgID, targetUserID string, actor Actor) (orgDeleted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock the organization row so concurrent membership changes serialize
	// and the owner count below stays accurate through commit.
	var lockedID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM organizations WHERE id = $1 FOR UPDATE`, orgID).Scan(&lockedID)
	if err == sql.ErrNoRows {
		return false, errdefs.NotFound("organization not found")
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock organization: %w", err)
	}

	actorRole, err := s.memberRole(ctx, tx, orgID, actor)
	if err != nil {
		return false, err
	}

	var targetRole roles.Role
	err = tx.QueryRowContext(ctx,
		`SELECT role FROM members WHERE organization_id = $1 AND user_id = $2`,
		orgID, targetUserID).Scan(&targetRole)
	if err == sql.ErrNoRows {
		return false, errdefs.NotFound("member not found")
	}
	if err != nil {
		return false, fmt.Errorf("failed to get member: %w", err)
	}

	if actor.UserID != targetUserID {
		if !roles.HasPermission(actorRole, roles.PermMemberRemove) {
			return false, errdefs.Forbidden("role %s does not grant %s", actorRole, roles.PermMemberRemove)
		}
		if roleRank(targetRole) > roleRank(actorRole) {
			return false, errdefs.Forbidden("cannot remove a member with a higher role")
		}
	}

	if targetRole == roles.RoleOwner {
		owners, err := s.countOwners(ctx, tx, orgID)
		if err != nil {
			return false, err
		}
		if owners <= 1 {
			// Last owner leaving takes the organization with them.
			if _, err := tx.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, orgID); err != nil {
				return false, fmt.Errorf("failed to delete organization: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return false, fmt.Errorf("failed to commit: %w", err)
			}

			s.logger.WithFields(map[string]interface{}{
				"organization_id": orgID,
				"actor_id":        actor.UserID,
			}).Info("organization deleted with last owner")

			return true, nil
		}
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM members WHERE organization_id = $1 AND user_id = $2`,
		orgID, targetUserID)
	if err != nil {
		return false, fmt.Errorf("failed to remove member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"user_id":         targetUserID,
		"actor_id":        actor.UserID,
	}).Info("member removed")

	return false, nil
}

func (s *PostgresService) countOwners(ctx context.Context, q querier, orgID string) (int, error) {
	var owners int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM members WHERE organization_id = $1 AND role = $2`,
		orgID, roles.RoleOwner).Scan(&owners)
	if err != nil {
		return 0, fmt.Errorf("failed to count owners: %w", err)
	}
	return owners, nil
}
