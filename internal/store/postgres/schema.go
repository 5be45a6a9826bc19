package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — task queue rows
// ─────────────────────────────────────────────────────────────────────────────

const ddlTasks = `
CREATE TABLE IF NOT EXISTS tasks (
    id         TEXT         PRIMARY KEY,
    kind       TEXT         NOT NULL,
    owner_id   TEXT         NOT NULL DEFAULT '',
    payload    JSONB,
    status     TEXT         NOT NULL DEFAULT 'queued',
    step       TEXT         NOT NULL DEFAULT '',
    progress   INT          NOT NULL DEFAULT 0,
    message    TEXT         NOT NULL DEFAULT '',
    result     JSONB,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);
CREATE INDEX IF NOT EXISTS idx_tasks_owner  ON tasks (owner_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — episode fields the pipeline patches
// ─────────────────────────────────────────────────────────────────────────────

const ddlEpisodes = `
CREATE TABLE IF NOT EXISTS episodes (
    id                 TEXT         PRIMARY KEY,
    encoded_audio_urls JSONB        NOT NULL DEFAULT '{}',
    transcript_url     TEXT         NOT NULL DEFAULT '',
    keywords           TEXT[]       NOT NULL DEFAULT '{}',
    updated_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — durable step log, one row per (workflow, step)
// ─────────────────────────────────────────────────────────────────────────────

const ddlStepRecords = `
CREATE TABLE IF NOT EXISTS step_records (
    workflow_id TEXT         NOT NULL,
    step        TEXT         NOT NULL,
    state       TEXT         NOT NULL,
    output      JSONB,
    error       TEXT         NOT NULL DEFAULT '',
    attempts    INT          NOT NULL DEFAULT 0,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (workflow_id, step)
);
`

// Migrate ensures all tables and indexes exist. It is idempotent and safe to
// run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlTasks,
		ddlEpisodes,
		ddlStepRecords,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
