// Package memory integrates the external long-term memory service. The
// gateway is strictly best-effort: writes and queries run under tight
// budgets, and failures degrade the turn instead of failing it.
package memory

import (
	"context"
	"time"
)

// Budget defaults. Memory work rides on the critical path of a turn, so the
// budgets are deliberately small.
const (
	DefaultAddTurnBudget = 3 * time.Second
	DefaultQueryBudget   = 1500 * time.Millisecond
)

// Entry is a snippet retrieved from the memory service.
type Entry struct {
	SessionID string    `json:"session_id,omitempty"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Turn is the user/assistant exchange written after a completed turn.
type Turn struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Gateway is the contract against the memory service. Implementations must
// scope all reads and writes to the user id.
type Gateway interface {
	// AddTurn records a completed exchange for later retrieval.
	AddTurn(ctx context.Context, turn Turn) error
	// QueryRelevant returns snippets relevant to the query, best first.
	QueryRelevant(ctx context.Context, userID, query string, limit int) ([]Entry, error)
	// DeleteSession purges everything remembered for a session.
	DeleteSession(ctx context.Context, sessionID string) error
}

// Budgeted wraps a Gateway with per-call timeouts so a slow memory service
// cannot stall the pipeline.
type Budgeted struct {
	gw            Gateway
	addTurnBudget time.Duration
	queryBudget   time.Duration
}

// NewBudgeted applies the default budgets when zero values are given.
func NewBudgeted(gw Gateway, addTurnBudget, queryBudget time.Duration) *Budgeted {
	if addTurnBudget <= 0 {
		addTurnBudget = DefaultAddTurnBudget
	}
	if queryBudget <= 0 {
		queryBudget = DefaultQueryBudget
	}
	return &Budgeted{gw: gw, addTurnBudget: addTurnBudget, queryBudget: queryBudget}
}

func (b *Budgeted) AddTurn(ctx context.Context, turn Turn) error {
	ctx, cancel := context.WithTimeout(ctx, b.addTurnBudget)
	defer cancel()
	return b.gw.AddTurn(ctx, turn)
}

func (b *Budgeted) QueryRelevant(ctx context.Context, userID, query string, limit int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, b.queryBudget)
	defer cancel()
	return b.gw.QueryRelevant(ctx, userID, query, limit)
}

func (b *Budgeted) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, b.addTurnBudget)
	defer cancel()
	return b.gw.DeleteSession(ctx, sessionID)
}

// Noop discards writes and returns no snippets. Used when no memory service
// is configured.
type Noop struct{}

func (Noop) AddTurn(ctx context.Context, turn Turn) error { return nil }

func (Noop) QueryRelevant(ctx context.Context, userID, query string, limit int) ([]Entry, error) {
	return nil, nil
}

func (Noop) DeleteSession(ctx context.Context, sessionID string) error { return nil }
