package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the ordered schema migrations.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users, credentials, and sessions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					email TEXT NOT NULL UNIQUE,
					email_verified BOOLEAN NOT NULL DEFAULT FALSE,
					name TEXT,
					image TEXT,
					role TEXT NOT NULL DEFAULT 'user',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS credentials (
					user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
					password_hash TEXT NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS sessions (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash TEXT NOT NULL UNIQUE,
					token_prefix TEXT NOT NULL,
					ip_address TEXT,
					user_agent TEXT,
					expires_at TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
				CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
			`,
		},
		{
			Version:     2,
			Description: "Create login_tokens table for email verification, password reset, and magic links",
			SQL: `
				CREATE TABLE IF NOT EXISTS login_tokens (
					id UUID PRIMARY KEY,
					email TEXT NOT NULL,
					purpose TEXT NOT NULL CHECK (purpose IN ('verify_email', 'password_reset', 'magic_link')),
					token_hash TEXT NOT NULL UNIQUE,
					expires_at TIMESTAMPTZ NOT NULL,
					consumed_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_login_tokens_email_purpose ON login_tokens(email, purpose);
				CREATE INDEX IF NOT EXISTS idx_login_tokens_expires_at ON login_tokens(expires_at);
			`,
		},
		{
			Version:     3,
			Description: "Create organizations and members tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id UUID PRIMARY KEY,
					name TEXT NOT NULL,
					slug TEXT NOT NULL UNIQUE,
					logo TEXT,
					metadata JSONB,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS members (
					id UUID PRIMARY KEY,
					organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('owner', 'admin', 'member')),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(organization_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_members_organization_id ON members(organization_id);
				CREATE INDEX IF NOT EXISTS idx_members_user_id ON members(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS invitations (
					id UUID PRIMARY KEY,
					organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					email TEXT NOT NULL,
					role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('admin', 'member')),
					token TEXT NOT NULL UNIQUE,
					status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'accepted', 'expired', 'canceled')),
					expires_at TIMESTAMPTZ NOT NULL,
					inviter_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_invitations_organization_id ON invitations(organization_id);
				CREATE INDEX IF NOT EXISTS idx_invitations_email ON invitations(LOWER(email));
				CREATE INDEX IF NOT EXISTS idx_invitations_status ON invitations(status);
			`,
		},
		{
			Version:     5,
			Description: "Create audit_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					actor_id UUID REFERENCES users(id) ON DELETE SET NULL,
					organization_id UUID,
					action TEXT NOT NULL,
					resource_type TEXT NOT NULL,
					resource_id TEXT,
					ip_address TEXT,
					status TEXT NOT NULL,
					error_message TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_organization_id ON audit_logs(organization_id);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at);
			`,
		},
	}
}

// RunMigrations applies pending migrations in version order. Each migration
// runs in its own transaction together with its schema_migrations record.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, migration := range Migrations() {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`,
			migration.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", migration.Version, err)
		}
		if exists {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Description, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
			migration.Version, migration.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
