package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for tests, local
// runs, and the mock backend mode. Counter semantics mirror the Postgres
// insert trigger: AppendMessage bumps message_count, unread_count for
// assistant messages, and last_activity_at.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*models.Session
	messages   map[string][]*models.Message
	executions map[string]*models.ToolExecution
	execOrder  []string
	nextMsgID  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   map[string]*models.Session{},
		messages:   map[string][]*models.Message{},
		executions: map[string]*models.ToolExecution{},
	}
}

// CreateSession inserts or touches a session.
func (m *MemoryStore) CreateSession(ctx context.Context, id, userID, title string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, ok := m.sessions[id]; ok {
		if title != "" {
			existing.Title = title
		}
		existing.LastActivityAt = now
		return cloneSession(existing), nil
	}

	session := &models.Session{
		ID:             id,
		UserID:         userID,
		Title:          title,
		Status:         models.SessionActive,
		Metadata:       map[string]any{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.sessions[id] = session
	return cloneSession(session), nil
}

// GetSession retrieves a session by id.
func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

// UpdateSession applies a partial update with shallow metadata merge.
func (m *MemoryStore) UpdateSession(ctx context.Context, id string, patch SessionPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if patch.Title != nil {
		session.Title = *patch.Title
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return errs.New(errs.KindValidation, "invalid session status")
		}
		session.Status = *patch.Status
	}
	if patch.Metadata != nil {
		if session.Metadata == nil {
			session.Metadata = map[string]any{}
		}
		for k, v := range patch.Metadata {
			session.Metadata[k] = v
		}
	}
	if patch.LastActivityAt != nil {
		session.LastActivityAt = *patch.LastActivityAt
	}
	if patch.ResetUnread {
		session.UnreadCount = 0
	}
	return nil
}

// ListSessions lists with filtering; deleted sessions are excluded unless
// explicitly requested.
func (m *MemoryStore) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Session
	for _, s := range m.sessions {
		if opts.Status != "" {
			if s.Status != opts.Status {
				continue
			}
		} else if s.Status == models.SessionDeleted {
			continue
		}
		if opts.UserID != "" && s.UserID != opts.UserID {
			continue
		}
		out = append(out, cloneSession(s))
	}

	asc := opts.SortOrder == SortAsc
	byCreated := opts.SortBy == "created_at"
	sort.Slice(out, func(i, j int) bool {
		var a, b time.Time
		if byCreated {
			a, b = out[i].CreatedAt, out[j].CreatedAt
		} else {
			a, b = out[i].LastActivityAt, out[j].LastActivityAt
		}
		if asc {
			return a.Before(b)
		}
		return a.After(b)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// HardDeleteSession removes the session and cascades messages and executions.
func (m *MemoryStore) HardDeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	remaining := m.execOrder[:0]
	for _, execID := range m.execOrder {
		if rec, ok := m.executions[execID]; ok && rec.SessionID == id {
			delete(m.executions, execID)
			continue
		}
		remaining = append(remaining, execID)
	}
	m.execOrder = remaining
	return nil
}

// AppendMessage inserts a message with a store-wide monotonic id and applies
// the trigger-equivalent counter updates.
func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, typ models.MessageType, content string, metadata map[string]any) (*models.Message, error) {
	if !typ.Valid() {
		return nil, errs.New(errs.KindValidation, "invalid message type")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	m.nextMsgID++
	now := time.Now()
	msg := &models.Message{
		ID:        m.nextMsgID,
		SessionID: sessionID,
		Type:      typ,
		Content:   content,
		Metadata:  cloneMetadata(metadata),
		CreatedAt: now,
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)

	session.MessageCount++
	if typ == models.MessageAssistant {
		session.UnreadCount++
	}
	session.LastActivityAt = now

	return cloneMessage(msg), nil
}

// ReadMessages reads a page ordered by (created_at, id).
func (m *MemoryStore) ReadMessages(ctx context.Context, sessionID string, opts ReadOptions) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.messages[sessionID]
	ordered := make([]*models.Message, len(src))
	copy(ordered, src)
	if opts.Order == SortDesc {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(ordered) {
			return nil, nil
		}
		ordered = ordered[opts.Offset:]
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	out := make([]*models.Message, len(ordered))
	for i, msg := range ordered {
		out[i] = cloneMessage(msg)
	}
	return out, nil
}

// ReadLastMessages returns the newest n messages in ascending order.
func (m *MemoryStore) ReadLastMessages(ctx context.Context, sessionID string, n int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.messages[sessionID]
	if n <= 0 {
		n = 100
	}
	start := len(src) - n
	if start < 0 {
		start = 0
	}
	out := make([]*models.Message, 0, len(src)-start)
	for _, msg := range src[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

// SearchMessages scans the user's sessions for a case-insensitive match.
func (m *MemoryStore) SearchMessages(ctx context.Context, userID, term string, limit int) ([]SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(term)
	var hits []SearchHit
	for id, session := range m.sessions {
		if session.UserID != userID || session.Status == models.SessionDeleted {
			continue
		}
		for _, msg := range m.messages[id] {
			if strings.Contains(strings.ToLower(msg.Content), needle) {
				hits = append(hits, SearchHit{Message: *cloneMessage(msg), SessionID: id})
			}
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Message.ID > hits[j].Message.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// LogToolExecution records a pending execution.
func (m *MemoryStore) LogToolExecution(ctx context.Context, rec *models.ToolExecution) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = models.ToolExecPending
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	clone := *rec
	clone.Input = append(json.RawMessage(nil), rec.Input...)
	clone.Metadata = cloneMetadata(rec.Metadata)
	m.executions[clone.ID] = &clone
	m.execOrder = append(m.execOrder, clone.ID)
	return clone.ID, nil
}

// UpdateToolExecution applies the terminal transition exactly once.
func (m *MemoryStore) UpdateToolExecution(ctx context.Context, id string, patch models.ToolExecutionPatch) error {
	if !patch.Status.Terminal() {
		return errs.New(errs.KindValidation, "tool execution transition must be terminal")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.executions[id]
	if !ok || rec.Status != models.ToolExecPending {
		return ErrNotFound
	}
	completed := patch.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	rec.Status = patch.Status
	rec.Output = append(json.RawMessage(nil), patch.Output...)
	rec.CompletedAt = &completed
	rec.DurationMs = patch.DurationMs
	rec.ErrorMessage = patch.ErrorMessage
	if patch.MessageID > 0 {
		rec.MessageID = patch.MessageID
	}
	return nil
}

// ListToolExecutions reads executions for a session, oldest first.
func (m *MemoryStore) ListToolExecutions(ctx context.Context, sessionID string, limit int) ([]*models.ToolExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var out []*models.ToolExecution
	for _, id := range m.execOrder {
		rec, ok := m.executions[id]
		if !ok || rec.SessionID != sessionID {
			continue
		}
		clone := *rec
		out = append(out, &clone)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkAbandonedExecutions flips pending executions to error/abandoned.
func (m *MemoryStore) MarkAbandonedExecutions(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	count := 0
	for _, rec := range m.executions {
		if rec.Status == models.ToolExecPending {
			rec.Status = models.ToolExecError
			rec.ErrorMessage = models.AbandonedReason
			rec.CompletedAt = &now
			count++
		}
	}
	return count, nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func cloneSession(s *models.Session) *models.Session {
	clone := *s
	clone.Metadata = cloneMetadata(s.Metadata)
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	clone := *msg
	clone.Metadata = cloneMetadata(msg.Metadata)
	return &clone
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
