package orgs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/unuxt/unuxt/pkg/errdefs"
	"github.com/unuxt/unuxt/pkg/observability"
	"github.com/unuxt/unuxt/pkg/roles"
	"github.com/unuxt/unuxt/pkg/validation"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}

// querier is the subset of sql.DB and sql.Tx the permission helpers need.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresService implements organizations, memberships, and invitations
// using PostgreSQL.
type PostgresService struct {
	db            *sql.DB
	logger        *observability.Logger
	notifier      Notifier
	invitationTTL time.Duration
}

// NewPostgresService creates a new PostgresService. notifier may be nil, in
// which case invitation emails are skipped.
func NewPostgresService(db *sql.DB, logger *observability.Logger, notifier Notifier, invitationTTL time.Duration) *PostgresService {
	if invitationTTL <= 0 {
		invitationTTL = 7 * 24 * time.Hour
	}
	return &PostgresService{
		db:            db,
		logger:        logger,
		notifier:      notifier,
		invitationTTL: invitationTTL,
	}
}

// memberRole returns the actor's role in an organization. Platform admins
// are treated as owners without a membership row.
func (s *PostgresService) memberRole(ctx context.Context, q querier, orgID string, actor Actor) (roles.Role, error) {
	if actor.Admin {
		return roles.RoleOwner, nil
	}

	var role roles.Role
	err := q.QueryRowContext(ctx,
		`SELECT role FROM members WHERE organization_id = $1 AND user_id = $2`,
		orgID, actor.UserID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", errdefs.Forbidden("not a member of this organization")
	}
	if err != nil {
		return "", fmt.Errorf("failed to get member role: %w", err)
	}

	return role, nil
}

// requirePermission resolves the actor's role and checks it grants perm.
func (s *PostgresService) requirePermission(ctx context.Context, q querier, orgID string, actor Actor, perm roles.Permission) (roles.Role, error) {
	role, err := s.memberRole(ctx, q, orgID, actor)
	if err != nil {
		return "", err
	}
	if !roles.HasPermission(role, perm) {
		return "", errdefs.Forbidden("role %s does not grant %s", role, perm)
	}
	return role, nil
}

// CreateOrganization creates an organization and makes the creator its owner
// in the same transaction. Any authenticated user may create organizations.
func (s *PostgresService) CreateOrganization(ctx context.Context, creatorID string, req *CreateOrgRequest) (*Organization, error) {
	if err := validation.Name(req.Name); err != nil {
		return nil, err
	}
	slug := req.Slug
	if slug == "" {
		slug = validation.Slugify(req.Name)
	}
	if err := validation.Slug(slug); err != nil {
		return nil, err
	}

	metadataJSON, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	org := &Organization{
		ID:       uuid.NewString(),
		Name:     req.Name,
		Slug:     slug,
		Logo:     req.Logo,
		Metadata: req.Metadata,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO organizations (id, name, slug, logo, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, query, org.ID, org.Name, org.Slug,
		nullString(org.Logo), metadataJSON).
		Scan(&org.CreatedAt, &org.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, errdefs.Conflict("slug %q is already taken", org.Slug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO members (id, organization_id, user_id, role) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), org.ID, creatorID, roles.RoleOwner)
	if err != nil {
		return nil, fmt.Errorf("failed to add owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": org.ID,
		"slug":            org.Slug,
		"owner_id":        creatorID,
	}).Info("organization created")

	return org, nil
}

// GetOrganization retrieves an organization the actor can read.
func (s *PostgresService) GetOrganization(ctx context.Context, orgID string, actor Actor) (*Organization, error) {
	if _, err := s.requirePermission(ctx, s.db, orgID, actor, roles.PermOrganizationRead); err != nil {
		return nil, err
	}
	return s.getOrganization(ctx, s.db, `WHERE id = $1`, orgID)
}

// GetOrganizationBySlug retrieves an organization by slug.
func (s *PostgresService) GetOrganizationBySlug(ctx context.Context, slug string, actor Actor) (*Organization, error) {
	org, err := s.getOrganization(ctx, s.db, `WHERE slug = $1`, slug)
	if err != nil {
		return nil, err
	}
	if _, err := s.requirePermission(ctx, s.db, org.ID, actor, roles.PermOrganizationRead); err != nil {
		return nil, err
	}
	return org, nil
}

func (s *PostgresService) getOrganization(ctx context.Context, q querier, where string, arg interface{}) (*Organization, error) {
	query := `
		SELECT id, name, slug, logo, metadata, created_at, updated_at
		FROM organizations ` + where

	org := &Organization{}
	var logo sql.NullString
	var metadataJSON []byte
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&org.ID, &org.Name, &org.Slug, &logo, &metadataJSON,
		&org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("organization not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	org.Logo = logo.String
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &org.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return org, nil
}

// ListOrganizationsForUser lists the organizations a user belongs to.
func (s *PostgresService) ListOrganizationsForUser(ctx context.Context, userID string) ([]*Organization, error) {
	query := `
		SELECT o.id, o.name, o.slug, o.logo, o.metadata, o.created_at, o.updated_at
		FROM organizations o
		JOIN members m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		org := &Organization{}
		var logo sql.NullString
		var metadataJSON []byte
		if err := rows.Scan(
			&org.ID, &org.Name, &org.Slug, &logo, &metadataJSON,
			&org.CreatedAt, &org.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		org.Logo = logo.String
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &org.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		orgs = append(orgs, org)
	}

	return orgs, nil
}

// UpdateOrganization applies a partial update. Requires organization:update.
func (s *PostgresService) UpdateOrganization(ctx context.Context, orgID string, updates *UpdateOrgRequest, actor Actor) error {
	if _, err := s.requirePermission(ctx, s.db, orgID, actor, roles.PermOrganizationUpdate); err != nil {
		return err
	}

	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if updates.Name != nil {
		if err := validation.Name(*updates.Name); err != nil {
			return err
		}
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *updates.Name)
		argPos++
	}
	if updates.Slug != nil {
		if err := validation.Slug(*updates.Slug); err != nil {
			return err
		}
		setClauses = append(setClauses, fmt.Sprintf("slug = $%d", argPos))
		args = append(args, *updates.Slug)
		argPos++
	}
	if updates.Logo != nil {
		setClauses = append(setClauses, fmt.Sprintf("logo = $%d", argPos))
		args = append(args, nullString(*updates.Logo))
		argPos++
	}
	if updates.Metadata != nil {
		metadataJSON, err := json.Marshal(updates.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("metadata = $%d", argPos))
		args = append(args, metadataJSON)
		argPos++
	}

	if len(setClauses) == 0 {
		return nil
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	args = append(args, orgID)
	query := fmt.Sprintf("UPDATE organizations SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)

	result, err := s.db.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return errdefs.Conflict("slug is already taken")
	}
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errdefs.NotFound("organization not found")
	}

	return nil
}

// DeleteOrganization removes an organization. Memberships and invitations go
// with it by foreign key cascade. Requires organization:delete (owner only).
func (s *PostgresService) DeleteOrganization(ctx context.Context, orgID string, actor Actor) error {
	if _, err := s.requirePermission(ctx, s.db, orgID, actor, roles.PermOrganizationDelete); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errdefs.NotFound("organization not found")
	}

	s.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"actor_id":        actor.UserID,
	}).Info("organization deleted")

	return nil
}

// CountOrganizations returns the total number of organizations.
func (s *PostgresService) CountOrganizations(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count organizations: %w", err)
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
