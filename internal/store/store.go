// Package store provides durable persistence for sessions, messages, and
// tool executions. The store enforces ordering and counter invariants and
// carries no business logic.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// ErrNotFound is returned when a session or resource does not exist.
var ErrNotFound = errors.New("store: not found")

// SortOrder controls result ordering.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ReadOptions configures message reads. Messages are ordered by
// (created_at, id); Order=SortDesc returns newest first.
type ReadOptions struct {
	Limit  int
	Offset int
	Order  SortOrder
}

// ListOptions configures session listing. A zero Status excludes deleted
// sessions; an explicit Status filters to exactly that status.
type ListOptions struct {
	Status    models.SessionStatus
	UserID    string
	SortBy    string // created_at | last_activity_at (default)
	SortOrder SortOrder
	Limit     int
	Offset    int
}

// SessionPatch describes a partial session update. Nil fields are left
// untouched; Metadata entries are merged shallowly into the existing bag.
type SessionPatch struct {
	Title          *string
	Status         *models.SessionStatus
	Metadata       map[string]any
	LastActivityAt *time.Time
	ResetUnread    bool
}

// SearchHit is a message matched by full-text search, carrying its session.
type SearchHit struct {
	Message   models.Message `json:"message"`
	SessionID string         `json:"session_id"`
}

// Store is the persistence contract for the turn pipeline and HTTP surface.
//
// Guarantees:
//   - AppendMessage ids are strictly increasing per session in program order.
//   - sessions.message_count is maintained by the store (trigger for SQL
//     backends); callers must never compute it by counting rows.
//   - Failures are storage-kind errors; ErrNotFound signals missing rows.
type Store interface {
	// CreateSession is idempotent: on id conflict it updates the title and
	// touches last_activity_at.
	CreateSession(ctx context.Context, id, userID, title string) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, id string, patch SessionPatch) error
	ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	// HardDeleteSession removes the session and cascades messages and tool
	// executions. Soft delete is UpdateSession with Status=deleted.
	HardDeleteSession(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, sessionID string, typ models.MessageType, content string, metadata map[string]any) (*models.Message, error)
	ReadMessages(ctx context.Context, sessionID string, opts ReadOptions) ([]*models.Message, error)
	// ReadLastMessages returns the most recent n messages in ascending order.
	ReadLastMessages(ctx context.Context, sessionID string, n int) ([]*models.Message, error)
	SearchMessages(ctx context.Context, userID, term string, limit int) ([]SearchHit, error)

	LogToolExecution(ctx context.Context, rec *models.ToolExecution) (string, error)
	UpdateToolExecution(ctx context.Context, id string, patch models.ToolExecutionPatch) error
	ListToolExecutions(ctx context.Context, sessionID string, limit int) ([]*models.ToolExecution, error)
	// MarkAbandonedExecutions transitions all pending executions to error with
	// the abandoned reason. Called on startup and during shutdown drain.
	MarkAbandonedExecutions(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
	Close() error
}
