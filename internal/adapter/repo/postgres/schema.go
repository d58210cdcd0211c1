package postgres

import (
	"context"
	"fmt"
)

// schema is applied idempotently at startup. The partial unique index is the
// store-level guarantee of one active session per (user, instrument); the
// unique session_id on results guarantees one result per session.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id text PRIMARY KEY,
		user_id text NOT NULL,
		instrument_id text NOT NULL,
		state text NOT NULL CHECK (state IN ('started','in_progress','completed','abandoned','expired')),
		current_question_index integer NOT NULL DEFAULT 0,
		total_questions integer NOT NULL,
		time_spent_seconds integer NOT NULL DEFAULT 0,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL,
		expires_at timestamptz NOT NULL,
		completed_at timestamptz
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS sessions_one_active_idx
		ON sessions (user_id, instrument_id) WHERE state IN ('started','in_progress')`,
	`CREATE INDEX IF NOT EXISTS sessions_user_created_idx ON sessions (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS sessions_active_expiry_idx
		ON sessions (expires_at) WHERE state IN ('started','in_progress')`,
	`CREATE TABLE IF NOT EXISTS answers (
		session_id text NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		item_id text NOT NULL,
		raw_value integer NOT NULL,
		recorded_at timestamptz NOT NULL,
		PRIMARY KEY (session_id, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS results (
		id text PRIMARY KEY,
		session_id text NOT NULL UNIQUE REFERENCES sessions(id) ON DELETE RESTRICT,
		user_id text NOT NULL,
		instrument_id text NOT NULL,
		overall_score double precision,
		dimension_scores jsonb NOT NULL,
		profile_outcome jsonb NOT NULL,
		interpretation_label text NOT NULL DEFAULT '',
		interpretation text NOT NULL DEFAULT '',
		recommendations text NOT NULL DEFAULT '',
		metadata jsonb NOT NULL DEFAULT '{}'::jsonb,
		completed_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS results_user_completed_idx ON results (user_id, completed_at DESC)`,
	`CREATE INDEX IF NOT EXISTS results_instrument_idx ON results (instrument_id)`,
}

// EnsureSchema creates the tables and indexes when missing.
func EnsureSchema(ctx context.Context, p PgxPool) error {
	for i, stmt := range schema {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=schema.ensure: statement %d: %w", i, err)
		}
	}
	return nil
}
