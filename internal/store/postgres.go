package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB

	// Prepared statements for the hot path
	stmtCreateSession *sql.Stmt
	stmtGetSession    *sql.Stmt
	stmtAppendMessage *sql.Stmt
	stmtLastMessages  *sql.Stmt
	stmtLogToolExec   *sql.Stmt
}

// PostgresConfig holds connection settings.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default connection settings.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens a connection pool, verifies connectivity, applies
// the schema, and prepares statements.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("store: dsn is required")
	}
	defaults := DefaultPostgresConfig()
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaults.MaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaults.MaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to prepare statements: %w", err)
	}
	return s, nil
}

// NewPostgresStoreFromDB wraps an existing connection without migrating.
// Used by tests with sqlmock.
func NewPostgresStoreFromDB(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.prepareStatements(); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying connection for related stores.
func (s *PostgresStore) DB() *sql.DB { return s.db }

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtCreateSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, user_id, title, status, metadata, created_at, last_activity_at)
		VALUES ($1, NULLIF($2, ''), $3, 'active', '{}', now(), now())
		ON CONFLICT (id) DO UPDATE
		SET title = CASE WHEN EXCLUDED.title <> '' THEN EXCLUDED.title ELSE sessions.title END,
			last_activity_at = now()
		RETURNING id, COALESCE(user_id, ''), title, status, message_count, unread_count, metadata, created_at, last_activity_at
	`)
	if err != nil {
		return fmt.Errorf("prepare create session: %w", err)
	}

	s.stmtGetSession, err = s.db.Prepare(`
		SELECT id, COALESCE(user_id, ''), title, status, message_count, unread_count, metadata, created_at, last_activity_at
		FROM sessions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get session: %w", err)
	}

	s.stmtAppendMessage, err = s.db.Prepare(`
		INSERT INTO messages (session_id, type, content, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`)
	if err != nil {
		return fmt.Errorf("prepare append message: %w", err)
	}

	s.stmtLastMessages, err = s.db.Prepare(`
		SELECT id, session_id, type, content, metadata, created_at
		FROM messages WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`)
	if err != nil {
		return fmt.Errorf("prepare last messages: %w", err)
	}

	s.stmtLogToolExec, err = s.db.Prepare(`
		INSERT INTO tool_executions (id, session_id, message_id, tool_name, tool_input, status, started_at, metadata)
		VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare log tool execution: %w", err)
	}

	return nil
}

// Close closes prepared statements and the connection pool.
func (s *PostgresStore) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtCreateSession, s.stmtGetSession, s.stmtAppendMessage,
		s.stmtLastMessages, s.stmtLogToolExec,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}

// Ping verifies store connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession inserts or touches the session row.
func (s *PostgresStore) CreateSession(ctx context.Context, id, userID, title string) (*models.Session, error) {
	session, err := scanSession(s.stmtCreateSession.QueryRowContext(ctx, id, userID, title))
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "create session", err)
	}
	return session, nil
}

// GetSession retrieves a session by id.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	session, err := scanSession(s.stmtGetSession.QueryRowContext(ctx, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "get session", err)
	}
	return session, nil
}

// UpdateSession applies a partial update. Metadata entries are merged
// shallowly into the stored bag via jsonb concatenation.
func (s *PostgresStore) UpdateSession(ctx context.Context, id string, patch SessionPatch) error {
	sets := []string{}
	args := []any{}
	pos := 1

	if patch.Title != nil {
		sets = append(sets, fmt.Sprintf("title = $%d", pos))
		args = append(args, *patch.Title)
		pos++
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return errs.New(errs.KindValidation, "invalid session status")
		}
		sets = append(sets, fmt.Sprintf("status = $%d", pos))
		args = append(args, string(*patch.Status))
		pos++
	}
	if patch.Metadata != nil {
		payload, err := json.Marshal(patch.Metadata)
		if err != nil {
			return errs.Wrap(errs.KindStorage, "marshal metadata", err)
		}
		sets = append(sets, fmt.Sprintf("metadata = metadata || $%d::jsonb", pos))
		args = append(args, payload)
		pos++
	}
	if patch.LastActivityAt != nil {
		sets = append(sets, fmt.Sprintf("last_activity_at = $%d", pos))
		args = append(args, *patch.LastActivityAt)
		pos++
	}
	if patch.ResetUnread {
		sets = append(sets, "unread_count = 0")
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE sessions SET %s WHERE id = $%d", strings.Join(sets, ", "), pos)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errs.Wrap(errs.KindStorage, "update session", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.KindStorage, "rows affected", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions lists sessions with filtering and pagination. Deleted
// sessions are excluded unless explicitly requested.
func (s *PostgresStore) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	query := `
		SELECT id, COALESCE(user_id, ''), title, status, message_count, unread_count, metadata, created_at, last_activity_at
		FROM sessions
	`
	where := []string{}
	args := []any{}
	pos := 1

	if opts.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", pos))
		args = append(args, string(opts.Status))
		pos++
	} else {
		where = append(where, fmt.Sprintf("status <> $%d", pos))
		args = append(args, string(models.SessionDeleted))
		pos++
	}
	if opts.UserID != "" {
		where = append(where, fmt.Sprintf("user_id = $%d", pos))
		args = append(args, opts.UserID)
		pos++
	}
	query += " WHERE " + strings.Join(where, " AND ")

	sortBy := "last_activity_at"
	if opts.SortBy == "created_at" {
		sortBy = "created_at"
	}
	dir := "DESC"
	if opts.SortOrder == SortAsc {
		dir = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortBy, dir)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", pos)
		args = append(args, opts.Limit)
		pos++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", pos)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "list sessions", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, errs.Wrap(errs.KindStorage, "scan session", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "iterate sessions", err)
	}
	return sessions, nil
}

// HardDeleteSession removes the session row; messages and tool executions
// cascade at the schema level.
func (s *PostgresStore) HardDeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return errs.Wrap(errs.KindStorage, "hard delete session", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.KindStorage, "rows affected", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage inserts a message. The insert trigger increments
// message_count and sets last_activity_at.
func (s *PostgresStore) AppendMessage(ctx context.Context, sessionID string, typ models.MessageType, content string, metadata map[string]any) (*models.Message, error) {
	if !typ.Valid() {
		return nil, errs.New(errs.KindValidation, "invalid message type")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "marshal metadata", err)
	}

	msg := &models.Message{
		SessionID: sessionID,
		Type:      typ,
		Content:   content,
		Metadata:  metadata,
	}
	err = s.stmtAppendMessage.QueryRowContext(ctx, sessionID, string(typ), content, payload).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "append message", err)
	}
	return msg, nil
}

// ReadMessages reads a page of messages ordered by (created_at, id).
func (s *PostgresStore) ReadMessages(ctx context.Context, sessionID string, opts ReadOptions) ([]*models.Message, error) {
	dir := "ASC"
	if opts.Order == SortDesc {
		dir = "DESC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, session_id, type, content, metadata, created_at
		FROM messages WHERE session_id = $1
		ORDER BY created_at %s, id %s
		LIMIT $2 OFFSET $3
	`, dir, dir)

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit, opts.Offset)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "read messages", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ReadLastMessages reads the newest n messages, flipped to ascending order.
func (s *PostgresStore) ReadLastMessages(ctx context.Context, sessionID string, n int) ([]*models.Message, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := s.stmtLastMessages.QueryContext(ctx, sessionID, n)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "read last messages", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SearchMessages finds messages containing term across the user's sessions.
func (s *PostgresStore) SearchMessages(ctx context.Context, userID, term string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.session_id, m.type, m.content, m.metadata, m.created_at
		FROM messages m
		JOIN sessions s ON s.id = m.session_id
		WHERE s.user_id = $1 AND s.status <> 'deleted' AND m.content ILIKE '%' || $2 || '%'
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3
	`, userID, term, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "search messages", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, len(messages))
	for i, m := range messages {
		hits[i] = SearchHit{Message: *m, SessionID: m.SessionID}
	}
	return hits, nil
}

// LogToolExecution inserts a pending execution row and returns its id.
func (s *PostgresStore) LogToolExecution(ctx context.Context, rec *models.ToolExecution) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = models.ToolExecPending
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	input := rec.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	metadata, err := json.Marshal(orEmpty(rec.Metadata))
	if err != nil {
		return "", errs.Wrap(errs.KindStorage, "marshal metadata", err)
	}

	_, err = s.stmtLogToolExec.ExecContext(ctx,
		rec.ID, rec.SessionID, rec.MessageID, rec.ToolName,
		[]byte(input), string(rec.Status), rec.StartedAt, metadata,
	)
	if err != nil {
		return "", errs.Wrap(errs.KindStorage, "log tool execution", err)
	}
	return rec.ID, nil
}

// UpdateToolExecution applies the terminal transition for an execution row.
// The linked message id is set in the same statement so the row and its
// assistant message stay consistent.
func (s *PostgresStore) UpdateToolExecution(ctx context.Context, id string, patch models.ToolExecutionPatch) error {
	if !patch.Status.Terminal() {
		return errs.New(errs.KindValidation, "tool execution transition must be terminal")
	}
	completed := patch.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	var output any
	if len(patch.Output) > 0 {
		output = []byte(patch.Output)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tool_executions
		SET status = $1, tool_output = $2, completed_at = $3, duration_ms = $4,
			error_message = NULLIF($5, ''), message_id = CASE WHEN $6 > 0 THEN $6 ELSE message_id END
		WHERE id = $7 AND status = 'pending'
	`, string(patch.Status), output, completed, patch.DurationMs, patch.ErrorMessage, patch.MessageID, id)
	if err != nil {
		return errs.Wrap(errs.KindStorage, "update tool execution", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.KindStorage, "rows affected", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListToolExecutions reads recent executions for a session, oldest first.
func (s *PostgresStore) ListToolExecutions(ctx context.Context, sessionID string, limit int) ([]*models.ToolExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, COALESCE(message_id, 0), tool_name, tool_input, tool_output,
			status, started_at, completed_at, COALESCE(duration_ms, 0), COALESCE(error_message, ''), metadata
		FROM tool_executions
		WHERE session_id = $1
		ORDER BY started_at ASC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "list tool executions", err)
	}
	defer rows.Close()

	var execs []*models.ToolExecution
	for rows.Next() {
		rec := &models.ToolExecution{}
		var input, metadataJSON []byte
		var output sql.NullString
		var completed sql.NullTime
		var status string
		err := rows.Scan(&rec.ID, &rec.SessionID, &rec.MessageID, &rec.ToolName,
			&input, &output, &status, &rec.StartedAt, &completed,
			&rec.DurationMs, &rec.ErrorMessage, &metadataJSON)
		if err != nil {
			return nil, errs.Wrap(errs.KindStorage, "scan tool execution", err)
		}
		rec.Input = json.RawMessage(input)
		rec.Status = models.ToolExecutionStatus(status)
		if output.Valid {
			rec.Output = json.RawMessage(output.String)
		}
		if completed.Valid {
			t := completed.Time
			rec.CompletedAt = &t
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
				return nil, errs.Wrap(errs.KindStorage, "unmarshal metadata", err)
			}
		}
		execs = append(execs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "iterate tool executions", err)
	}
	return execs, nil
}

// MarkAbandonedExecutions flips all pending rows to error with the abandoned
// reason. Run on startup and during shutdown drain.
func (s *PostgresStore) MarkAbandonedExecutions(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tool_executions
		SET status = 'error', error_message = $1, completed_at = now()
		WHERE status = 'pending'
	`, models.AbandonedReason)
	if err != nil {
		return 0, errs.Wrap(errs.KindStorage, "mark abandoned executions", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errs.Wrap(errs.KindStorage, "rows affected", err)
	}
	return int(rows), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	session := &models.Session{}
	var metadataJSON []byte
	var status string
	err := row.Scan(&session.ID, &session.UserID, &session.Title, &status,
		&session.MessageCount, &session.UnreadCount, &metadataJSON,
		&session.CreatedAt, &session.LastActivityAt)
	if err != nil {
		return nil, err
	}
	session.Status = models.SessionStatus(status)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &session.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal session metadata: %w", err)
		}
	}
	return session, nil
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var metadataJSON []byte
		var typ string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &typ, &msg.Content, &metadataJSON, &msg.CreatedAt); err != nil {
			return nil, errs.Wrap(errs.KindStorage, "scan message", err)
		}
		msg.Type = models.MessageType(typ)
		if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
			if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
				return nil, errs.Wrap(errs.KindStorage, "unmarshal message metadata", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "iterate messages", err)
	}
	return messages, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
