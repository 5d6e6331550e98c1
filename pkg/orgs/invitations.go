package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unuxt/unuxt/pkg/auth"
	"github.com/unuxt/unuxt/pkg/errdefs"
	"github.com/unuxt/unuxt/pkg/roles"
	"github.com/unuxt/unuxt/pkg/validation"
)

const invitationColumns = `id, organization_id, email, role, status, expires_at, inviter_id, created_at, updated_at`

// CreateInvitation invites an email address to join an organization.
// Requires invitation:create. If a pending invitation for the same address
// already exists it is superseded in place: same row, fresh token, the new
// role, and a reset expiry. The old token stops working either way.
func (s *PostgresService) CreateInvitation(ctx context.Context, orgID string, req *CreateInvitationRequest, actor Actor) (*Invitation, error) {
	email, err := validation.Email(req.Email)
	if err != nil {
		return nil, err
	}
	if err := validation.InvitationRole(req.Role); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.requirePermission(ctx, tx, orgID, actor, roles.PermInvitationCreate); err != nil {
		return nil, err
	}

	// The invitee must not already be a member.
	var existingMember bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM members m
			JOIN users u ON u.id = m.user_id
			WHERE m.organization_id = $1 AND LOWER(u.email) = $2
		)`, orgID, email).Scan(&existingMember)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if existingMember {
		return nil, errdefs.Conflict("%s is already a member", email)
	}

	token, _, _, err := auth.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	invitation := &Invitation{
		OrganizationID: orgID,
		Email:          email,
		Role:           req.Role,
		Token:          token,
		Status:         InvitationPending,
		ExpiresAt:      time.Now().Add(s.invitationTTL),
		InviterID:      actor.UserID,
	}

	// Supersede any pending invitation for this address in place.
	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM invitations
		WHERE organization_id = $1 AND LOWER(email) = $2 AND status = 'pending'
		FOR UPDATE`, orgID, email).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		invitation.ID = uuid.NewString()
		err = tx.QueryRowContext(ctx, `
			INSERT INTO invitations (id, organization_id, email, role, token, status, expires_at, inviter_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at, updated_at`,
			invitation.ID, orgID, email, invitation.Role, token,
			invitation.Status, invitation.ExpiresAt, actor.UserID).
			Scan(&invitation.CreatedAt, &invitation.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to create invitation: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to check pending invitation: %w", err)
	default:
		invitation.ID = existingID
		err = tx.QueryRowContext(ctx, `
			UPDATE invitations
			SET token = $1, role = $2, expires_at = $3, inviter_id = $4, updated_at = NOW()
			WHERE id = $5
			RETURNING created_at, updated_at`,
			token, invitation.Role, invitation.ExpiresAt, actor.UserID, existingID).
			Scan(&invitation.CreatedAt, &invitation.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to supersede invitation: %w", err)
		}
	}

	org, err := s.getOrganization(ctx, tx, `WHERE id = $1`, orgID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"invitation_id":   invitation.ID,
		"role":            invitation.Role,
		"actor_id":        actor.UserID,
	}).Info("invitation created")

	// Delivery is best-effort and must not hold up the response.
	if s.notifier != nil {
		go s.notifier.InvitationCreated(context.WithoutCancel(ctx), org, invitation)
	}

	return invitation, nil
}

// GetInvitationByToken retrieves an invitation for the accept flow. A
// pending invitation past its deadline reads as expired.
func (s *PostgresService) GetInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE token = $1`
	invitation, err := scanInvitation(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		return nil, err
	}

	if invitation.Status == InvitationPending && time.Now().After(invitation.ExpiresAt) {
		invitation.Status = InvitationExpired
	}

	return invitation, nil
}

// AcceptInvitation consumes an invitation token and adds the caller to the
// organization. The caller's email must match the invitation's, case
// insensitively, and the caller must not already be a member. The row lock
// guarantees a token converts to at most one membership.
func (s *PostgresService) AcceptInvitation(ctx context.Context, token, userID, userEmail string) (*Member, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE token = $1 FOR UPDATE`
	invitation, err := scanInvitation(tx.QueryRowContext(ctx, query, token))
	if err != nil {
		return nil, err
	}

	switch invitation.Status {
	case InvitationPending:
	case InvitationExpired:
		return nil, errdefs.Expired("invitation has expired")
	default:
		return nil, errdefs.InvalidState("invitation is %s", invitation.Status)
	}

	if time.Now().After(invitation.ExpiresAt) {
		// Lazy transition; the sweeper would get here eventually.
		if _, err := tx.ExecContext(ctx,
			`UPDATE invitations SET status = 'expired', updated_at = NOW() WHERE id = $1`,
			invitation.ID); err != nil {
			return nil, fmt.Errorf("failed to expire invitation: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit: %w", err)
		}
		return nil, errdefs.Expired("invitation has expired")
	}

	if !strings.EqualFold(invitation.Email, userEmail) {
		return nil, errdefs.Forbidden("invitation was issued to a different email address")
	}

	member := &Member{
		ID:             uuid.NewString(),
		OrganizationID: invitation.OrganizationID,
		UserID:         userID,
		Role:           invitation.Role,
		Email:          invitation.Email,
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO members (id, organization_id, user_id, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, user_id) DO NOTHING`,
		member.ID, member.OrganizationID, userID, member.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Already a member; the invitation stays pending untouched.
		return nil, errdefs.Conflict("already a member of this organization")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE invitations SET status = 'accepted', updated_at = NOW() WHERE id = $1`,
		invitation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": invitation.OrganizationID,
		"invitation_id":   invitation.ID,
		"user_id":         userID,
		"role":            invitation.Role,
	}).Info("invitation accepted")

	member.CreatedAt = time.Now()
	return member, nil
}

// CancelInvitation revokes a pending invitation. Requires invitation:revoke.
// Only pending invitations can be canceled.
func (s *PostgresService) CancelInvitation(ctx context.Context, orgID, invitationID string, actor Actor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.requirePermission(ctx, tx, orgID, actor, roles.PermInvitationRevoke); err != nil {
		return err
	}

	var status InvitationStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM invitations WHERE id = $1 AND organization_id = $2 FOR UPDATE`,
		invitationID, orgID).Scan(&status)
	if err == sql.ErrNoRows {
		return errdefs.NotFound("invitation not found")
	}
	if err != nil {
		return fmt.Errorf("failed to get invitation: %w", err)
	}

	if status != InvitationPending {
		return errdefs.InvalidState("invitation is %s", status)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE invitations SET status = 'canceled', updated_at = NOW() WHERE id = $1`,
		invitationID)
	if err != nil {
		return fmt.Errorf("failed to cancel invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"invitation_id":   invitationID,
		"actor_id":        actor.UserID,
	}).Info("invitation canceled")

	return nil
}

// ListInvitations lists an organization's live pending invitations.
// Requires invitation:create.
func (s *PostgresService) ListInvitations(ctx context.Context, orgID string, actor Actor) ([]*Invitation, error) {
	if _, err := s.requirePermission(ctx, s.db, orgID, actor, roles.PermInvitationCreate); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE organization_id = $1 AND status = 'pending' AND expires_at > NOW()
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		invitation := &Invitation{}
		if err := rows.Scan(
			&invitation.ID, &invitation.OrganizationID, &invitation.Email, &invitation.Role,
			&invitation.Status, &invitation.ExpiresAt, &invitation.InviterID,
			&invitation.CreatedAt, &invitation.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, invitation)
	}

	return invitations, nil
}

// ExpireInvitations durably marks overdue pending invitations as expired.
// Run periodically; reads already treat them as expired.
func (s *PostgresService) ExpireInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invitations SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	return result.RowsAffected()
}

// CountPendingInvitations returns the number of live pending invitations.
func (s *PostgresService) CountPendingInvitations(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invitations WHERE status = 'pending' AND expires_at > NOW()`).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count invitations: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvitation(row rowScanner) (*Invitation, error) {
	invitation := &Invitation{}
	err := row.Scan(
		&invitation.ID, &invitation.OrganizationID, &invitation.Email, &invitation.Role,
		&invitation.Status, &invitation.ExpiresAt, &invitation.InviterID,
		&invitation.CreatedAt, &invitation.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("invitation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return invitation, nil
}
