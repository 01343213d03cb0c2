package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
	Down        string
}

// Migrations returns the schema in apply order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255),
					password VARCHAR(255) NOT NULL,
					secret VARCHAR(64),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					confirmed_at TIMESTAMPTZ,
					blocked_at TIMESTAMPTZ
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_users_secret ON users(secret);
			`,
			Down: `DROP TABLE IF EXISTS users`,
		},
		{
			Version:     2,
			Description: "Create roles and permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					parent_id BIGINT REFERENCES roles(id) ON DELETE SET NULL,
					title VARCHAR(255) NOT NULL UNIQUE
				);

				CREATE INDEX IF NOT EXISTS idx_roles_parent_id ON roles(parent_id);

				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					resource VARCHAR(255),
					action VARCHAR(255)
				);

				CREATE INDEX IF NOT EXISTS idx_permissions_role_id ON permissions(role_id);
			`,
			Down: `
				DROP TABLE IF EXISTS permissions;
				DROP TABLE IF EXISTS roles;
			`,
		},
		{
			Version:     3,
			Description: "Create user_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					UNIQUE(user_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
			`,
			Down: `DROP TABLE IF EXISTS user_roles`,
		},
		{
			Version:     4,
			Description: "Create sessions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sessions (
					id BIGSERIAL PRIMARY KEY,
					token VARCHAR(255) NOT NULL UNIQUE,
					user_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
					payload JSONB NOT NULL DEFAULT '{}',
					info JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
				CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
			`,
			Down: `DROP TABLE IF EXISTS sessions`,
		},
		{
			Version:     5,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMPTZ NOT NULL,
					event_type VARCHAR(100) NOT NULL,
					status VARCHAR(20) NOT NULL,
					user_id BIGINT,
					email VARCHAR(255),
					ip_address VARCHAR(45),
					user_agent TEXT,
					request_id VARCHAR(100),
					method VARCHAR(10),
					path TEXT,
					message TEXT,
					metadata JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);
				CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
			`,
			Down: `DROP TABLE IF EXISTS audit_events`,
		},
	}
}

// RunMigrations executes all pending migrations, one transaction each
func RunMigrations(ctx context.Context, db *sql.DB, logger logrus.FieldLogger) error {
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range Migrations() {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("Running migration")

		err := WithTx(ctx, db, nil, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
				migration.Version, migration.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		log.Info("Migration completed")
	}

	return nil
}

// Rollback reverts applied migrations newer than target, newest first
func Rollback(ctx context.Context, db *sql.DB, target int, logger logrus.FieldLogger) error {
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	migrations := Migrations()
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version > migrations[j].Version
	})

	for _, migration := range migrations {
		if migration.Version <= target || !applied[migration.Version] {
			continue
		}
		if migration.Down == "" {
			return fmt.Errorf("migration %d cannot be rolled back", migration.Version)
		}

		logger.WithField("version", migration.Version).Info("Rolling back migration")

		err := WithTx(ctx, db, nil, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migration.Down); err != nil {
				return fmt.Errorf("failed to roll back migration %d: %w", migration.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM schema_migrations WHERE version = $1", migration.Version,
			); err != nil {
				return fmt.Errorf("failed to unrecord migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
