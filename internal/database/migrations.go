package database

import (
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Up      string
	Down    string
}

// Migrations contains all database migrations
var Migrations = []Migration{
	{
		Version: 1,
		Up: `
			CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

			CREATE TABLE IF NOT EXISTS users (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				email VARCHAR(255) UNIQUE NOT NULL,
				display_name VARCHAR(255) NOT NULL,
				role VARCHAR(50) NOT NULL DEFAULT 'member',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
		`,
		Down: `
			DROP TABLE IF EXISTS users;
		`,
	},
	{
		Version: 2,
		Up: `
			CREATE TABLE IF NOT EXISTS content_containers (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				kind VARCHAR(50) NOT NULL DEFAULT 'thread',
				locked BOOLEAN NOT NULL DEFAULT false,
				locked_at TIMESTAMPTZ NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS moderated_content (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				source_type VARCHAR(20) NOT NULL,
				parent_id UUID REFERENCES content_containers(id) ON DELETE SET NULL,
				body TEXT NOT NULL DEFAULT '',
				attachments TEXT[] NOT NULL DEFAULT '{}',
				flag_count INT NOT NULL DEFAULT 0,
				status VARCHAR(20) NOT NULL DEFAULT 'visible',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_moderated_content_parent ON moderated_content(parent_id);
			CREATE INDEX IF NOT EXISTS idx_moderated_content_status ON moderated_content(status);
		`,
		Down: `
			DROP TABLE IF EXISTS moderated_content;
			DROP TABLE IF EXISTS content_containers;
		`,
	},
	{
		Version: 3,
		Up: `
			CREATE TABLE IF NOT EXISTS content_flags (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				source_type VARCHAR(20) NOT NULL,
				target_content_id UUID NOT NULL,
				reporter_id UUID NOT NULL,
				reason TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_content_flags_target ON content_flags(target_content_id);
		`,
		Down: `
			DROP TABLE IF EXISTS content_flags;
		`,
	},
	{
		Version: 4,
		Up: `
			CREATE TABLE IF NOT EXISTS moderation_cases (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				source_type VARCHAR(20) NOT NULL,
				source_id UUID NOT NULL,
				state VARCHAR(20) NOT NULL DEFAULT 'open',
				evidence JSONB NOT NULL DEFAULT '[]',
				assigned_moderator_id UUID NULL,
				first_response_at TIMESTAMPTZ NULL,
				resolved_at TIMESTAMPTZ NULL,
				version INT NOT NULL DEFAULT 1,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			-- at most one active case per source
			CREATE UNIQUE INDEX IF NOT EXISTS uniq_moderation_cases_active
				ON moderation_cases(source_type, source_id)
				WHERE state <> 'resolved';

			CREATE INDEX IF NOT EXISTS idx_moderation_cases_state_created ON moderation_cases(state, created_at);
		`,
		Down: `
			DROP TABLE IF EXISTS moderation_cases;
		`,
	},
	{
		Version: 5,
		Up: `
			CREATE TABLE IF NOT EXISTS moderation_notifications (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				recipient_id UUID NOT NULL,
				case_id UUID NOT NULL REFERENCES moderation_cases(id) ON DELETE CASCADE,
				kind VARCHAR(50) NOT NULL,
				severity VARCHAR(20) NOT NULL,
				title TEXT NOT NULL,
				body TEXT NOT NULL,
				data JSONB,
				read_at TIMESTAMPTZ NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_moderation_notifications_recipient ON moderation_notifications(recipient_id, created_at DESC);

			CREATE TABLE IF NOT EXISTS moderation_logs (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				case_id UUID NOT NULL REFERENCES moderation_cases(id) ON DELETE CASCADE,
				action VARCHAR(50) NOT NULL,
				moderator_id UUID,
				from_state VARCHAR(20) NOT NULL,
				to_state VARCHAR(20) NOT NULL,
				reason TEXT,
				metadata JSONB,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_moderation_logs_case ON moderation_logs(case_id);
		`,
		Down: `
			DROP TABLE IF EXISTS moderation_logs;
			DROP TABLE IF EXISTS moderation_notifications;
		`,
	},
	{
		Version: 6,
		Up: `
			CREATE TABLE IF NOT EXISTS sla_samples (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				subject_id VARCHAR(255) NOT NULL,
				metric_kind VARCHAR(32) NOT NULL,
				value DOUBLE PRECISION NULL,
				within_threshold BOOLEAN NOT NULL,
				captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_sla_samples_kind_time ON sla_samples(metric_kind, captured_at);

			CREATE TABLE IF NOT EXISTS sla_breaches (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				type VARCHAR(50) NOT NULL,
				severity VARCHAR(20) NOT NULL,
				details JSONB,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS sla_daily_reports (
				report_date DATE PRIMARY KEY,
				report JSONB NOT NULL,
				generated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
		Down: `
			DROP TABLE IF EXISTS sla_daily_reports;
			DROP TABLE IF EXISTS sla_breaches;
			DROP TABLE IF EXISTS sla_samples;
		`,
	},
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	AppliedAt time.Time
}

// RunMigrations runs all pending migrations
func RunMigrations(db *sql.DB) ([]int, error) {
	// Ensure migrations table exists
	if err := ensureMigrationsTable(db); err != nil {
		return nil, err
	}

	// Get current version
	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return nil, err
	}

	// Run pending migrations in ascending order by version
	sorted := make([]Migration, len(Migrations))
	copy(sorted, Migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	applied := []int{}
	for _, migration := range sorted {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return applied, fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", migration.Version); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		applied = append(applied, migration.Version)
	}

	return applied, nil
}

// Status lists the applied migrations in version order.
func Status(db *sql.DB) ([]AppliedMigration, error) {
	rows, err := db.Query("SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query schema_migrations: %w", err)
	}
	defer rows.Close()

	res := []AppliedMigration{}
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Version, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}
