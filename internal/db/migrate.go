package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	version string
	sql     string
}

// migrations run in order exactly once; applied versions are recorded
// in schema_migrations.
var migrations = []migration{
	{
		version: "1.0.0",
		sql: `
		CREATE TABLE IF NOT EXISTS jobs (
			id                TEXT PRIMARY KEY,
			process_id        TEXT NOT NULL,
			provider          TEXT NOT NULL,
			remote_job_id     TEXT NOT NULL DEFAULT '',
			remote_status_url TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL,
			status_info       JSONB,
			inputs            JSONB,
			inputs_url        TEXT NOT NULL DEFAULT '',
			inputs_storage    TEXT NOT NULL DEFAULT 'inline',
			inputs_size       INTEGER NOT NULL DEFAULT 0,
			inputs_checksum   TEXT NOT NULL DEFAULT '',
			results           JSONB,
			created           TIMESTAMPTZ NOT NULL,
			updated           TIMESTAMPTZ NOT NULL,
			diagnostic        TEXT NOT NULL DEFAULT '',
			version           BIGINT NOT NULL DEFAULT 0,
			user_id           TEXT NOT NULL DEFAULT '',
			hash              TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_provider ON jobs(provider);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
		CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id);
		CREATE INDEX IF NOT EXISTS idx_jobs_hash ON jobs(hash) WHERE hash <> '';
		`,
	},
	{
		version: "1.0.1",
		sql: `
		CREATE TABLE IF NOT EXISTS job_status_history (
			id          BIGSERIAL PRIMARY KEY,
			job_id      TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			status_info JSONB NOT NULL,
			created     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_job_status_history_job ON job_status_history(job_id);
		`,
	},
	{
		version: "1.0.2",
		sql: `
		CREATE TABLE IF NOT EXISTS job_events (
			id      BIGSERIAL PRIMARY KEY,
			job_id  TEXT NOT NULL,
			kind    TEXT NOT NULL,
			payload JSONB,
			ts      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id);
		`,
	},
	{
		version: "1.0.3",
		sql: `
		CREATE TABLE IF NOT EXISTS job_comments (
			id      TEXT PRIMARY KEY,
			job_id  TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			body    TEXT NOT NULL,
			created TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_job_comments_job ON job_comments(job_id);
		`,
	},
	{
		version: "1.0.4",
		sql: `
		CREATE TABLE IF NOT EXISTS jobs_users (
			job_id  TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			PRIMARY KEY (job_id, user_id)
		);
		`,
	},
	{
		version: "1.0.5",
		sql: `
		CREATE TABLE IF NOT EXISTS ensembles (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			user_id     TEXT NOT NULL DEFAULT '',
			created     TEXT NOT NULL
		);
		`,
	},
	{
		version: "1.0.6",
		sql: `
		CREATE TABLE IF NOT EXISTS ensembles_jobs (
			ensemble_id TEXT NOT NULL REFERENCES ensembles(id) ON DELETE CASCADE,
			job_id      TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			PRIMARY KEY (ensemble_id, job_id)
		);
		`,
	},
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)

	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var applied bool

		err = pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)
		`, m.version).Scan(&applied)

		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.version, err)
		}

		if applied {
			continue
		}

		tx, txErr := pool.Begin(ctx)

		if txErr != nil {
			return txErr
		}

		if _, execErr := tx.Exec(ctx, m.sql); execErr != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("apply migration %s: %w", m.version, execErr)
		}

		if _, execErr := tx.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, m.version); execErr != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", m.version, execErr)
		}

		if commitErr := tx.Commit(ctx); commitErr != nil {
			return commitErr
		}
	}

	return nil
}
