package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema statements executed in order by Migrate. The messages insert trigger
// maintains sessions.message_count and last_activity_at so writers never
// compute counts by counting rows. unread_count tracks assistant messages
// until the client acknowledges them.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id               TEXT PRIMARY KEY,
		user_id          TEXT,
		title            TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL DEFAULT 'active',
		message_count    INTEGER NOT NULL DEFAULT 0,
		unread_count     INTEGER NOT NULL DEFAULT 0,
		metadata         JSONB NOT NULL DEFAULT '{}',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_activity_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sessions_user_status
		ON sessions (user_id, status, last_activity_at DESC)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id         BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		type       TEXT NOT NULL,
		content    TEXT NOT NULL,
		metadata   JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_session_order
		ON messages (session_id, created_at, id)`,

	`CREATE TABLE IF NOT EXISTS tool_executions (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		message_id    BIGINT REFERENCES messages(id) ON DELETE SET NULL,
		tool_name     TEXT NOT NULL,
		tool_input    JSONB NOT NULL DEFAULT '{}',
		tool_output   JSONB,
		status        TEXT NOT NULL DEFAULT 'pending',
		started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at  TIMESTAMPTZ,
		duration_ms   BIGINT,
		error_message TEXT,
		metadata      JSONB NOT NULL DEFAULT '{}'
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tool_executions_session
		ON tool_executions (session_id, started_at)`,

	`CREATE OR REPLACE FUNCTION bump_session_on_message() RETURNS trigger AS $$
	BEGIN
		UPDATE sessions
		SET message_count    = message_count + 1,
			unread_count     = unread_count + CASE WHEN NEW.type = 'assistant' THEN 1 ELSE 0 END,
			last_activity_at = now()
		WHERE id = NEW.session_id;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS trg_messages_bump_session ON messages`,

	`CREATE TRIGGER trg_messages_bump_session
		AFTER INSERT ON messages
		FOR EACH ROW EXECUTE FUNCTION bump_session_on_message()`,
}

// Migrate applies the schema. Statements are idempotent so Migrate is safe to
// run on every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
