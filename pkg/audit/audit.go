// Package audit records security-relevant events: who did what to which
// resource, and whether it worked. Recording is best-effort; an audit
// insert failure is logged but never fails the audited operation.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unuxt/unuxt/pkg/observability"
)

// Action identifies what happened.
type Action string

const (
	ActionUserRegister     Action = "user.register"
	ActionUserLogin        Action = "user.login"
	ActionUserLogout       Action = "user.logout"
	ActionUserDelete       Action = "user.delete"
	ActionPasswordReset    Action = "user.password_reset"
	ActionEmailVerify      Action = "user.email_verify"
	ActionOrgCreate        Action = "org.create"
	ActionOrgUpdate        Action = "org.update"
	ActionOrgDelete        Action = "org.delete"
	ActionMemberAdd        Action = "member.add"
	ActionMemberRoleChange Action = "member.role_change"
	ActionMemberRemove     Action = "member.remove"
	ActionInvitationCreate Action = "invitation.create"
	ActionInvitationAccept Action = "invitation.accept"
	ActionInvitationCancel Action = "invitation.cancel"
)

// Status records the outcome of the audited operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Entry is one audit record.
type Entry struct {
	ID             int64     `json:"id"`
	ActorID        string    `json:"actor_id,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Action         Action    `json:"action"`
	ResourceType   string    `json:"resource_type"`
	ResourceID     string    `json:"resource_id,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
	Status         Status    `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Recorder writes audit entries to PostgreSQL.
type Recorder struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(db *sql.DB, logger *observability.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Record persists an entry. Failures are logged and swallowed so the
// audited operation is never rolled back by its own audit trail.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if entry.Status == "" {
		entry.Status = StatusSuccess
	}

	query := `
		INSERT INTO audit_logs (actor_id, organization_id, action, resource_type, resource_id, ip_address, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		nullString(entry.ActorID), nullString(entry.OrganizationID),
		entry.Action, entry.ResourceType, nullString(entry.ResourceID),
		nullString(entry.IPAddress), entry.Status, nullString(entry.ErrorMessage))
	if err != nil {
		r.logger.WithError(err).WithField("action", entry.Action).Error("failed to record audit entry")
	}
}

// ListByOrganization returns an organization's audit trail, newest first.
func (r *Recorder) ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]*Entry, error) {
	query := `
		SELECT id, actor_id, organization_id, action, resource_type, resource_id, ip_address, status, error_message, created_at
		FROM audit_logs
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ListByActor returns a user's audit trail, newest first.
func (r *Recorder) ListByActor(ctx context.Context, actorID string, limit, offset int) ([]*Entry, error) {
	query := `
		SELECT id, actor_id, organization_id, action, resource_type, resource_id, ip_address, status, error_message, created_at
		FROM audit_logs
		WHERE actor_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, actorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		entry := &Entry{}
		var actorID, orgID, resourceID, ipAddress, errorMessage sql.NullString
		if err := rows.Scan(
			&entry.ID, &actorID, &orgID, &entry.Action, &entry.ResourceType,
			&resourceID, &ipAddress, &entry.Status, &errorMessage, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.ActorID = actorID.String
		entry.OrganizationID = orgID.String
		entry.ResourceID = resourceID.String
		entry.IPAddress = ipAddress.String
		entry.ErrorMessage = errorMessage.String
		entries = append(entries, entry)
	}

	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
