// Package sessions manages session lifecycle: creation, per-session turn
// locks, activity-driven status transitions, and routing settings.
package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/internal/store"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// DefaultInactivityTimeout is how long a session stays active without a turn
// before it is flipped to inactive.
const DefaultInactivityTimeout = 30 * time.Minute

// Registry owns the session lifecycle. Each user turn must go through
// GetOrCreate + Touch so the inactivity timer is debounced; archive and
// delete cancel the timer.
//
// Thread Safety:
// Registry is safe for concurrent use.
type Registry struct {
	store      store.Store
	locks      *LockManager
	logger     *slog.Logger
	inactivity time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	InactivityTimeout time.Duration
	LockTTL           time.Duration
	Logger            *slog.Logger
}

// NewRegistry creates a registry over the given store.
func NewRegistry(st store.Store, opts RegistryOptions) *Registry {
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = DefaultInactivityTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		store:      st,
		locks:      NewLockManager(opts.LockTTL),
		logger:     opts.Logger,
		inactivity: opts.InactivityTimeout,
		timers:     make(map[string]*time.Timer),
	}
}

// Locks exposes the per-session turn lock manager.
func (r *Registry) Locks() *LockManager { return r.locks }

// GetOrCreate resolves a session for a turn. An empty id mints a fresh one;
// an id that does not match the opaque shape is rejected. Creation is
// idempotent, and archived or soft-deleted sessions refuse new turns.
func (r *Registry) GetOrCreate(ctx context.Context, id, userID, title string) (*models.Session, error) {
	if id == "" {
		id = models.NewSessionID()
	} else if !models.ValidSessionID(id) {
		return nil, errs.New(errs.KindValidation, "session id must be 32 hex characters")
	}

	session, err := r.store.GetSession(ctx, id)
	if err == store.ErrNotFound {
		session, err = r.store.CreateSession(ctx, id, userID, title)
		if err != nil {
			return nil, err
		}
		r.logger.Info("session created", "session_id", id, "user_id", userID)
		return session, nil
	}
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case models.SessionArchived:
		return nil, errs.New(errs.KindValidation, "session is archived")
	case models.SessionDeleted:
		return nil, store.ErrNotFound
	}
	return session, nil
}

// Get fetches a session, hiding soft-deleted rows.
func (r *Registry) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := r.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionDeleted {
		return nil, store.ErrNotFound
	}
	return session, nil
}

// List delegates to the store.
func (r *Registry) List(ctx context.Context, opts store.ListOptions) ([]*models.Session, error) {
	return r.store.ListSessions(ctx, opts)
}

// Touch records turn activity: it reactivates an inactive session and resets
// the debounced inactivity timer. Call it once per accepted turn.
func (r *Registry) Touch(ctx context.Context, session *models.Session) error {
	if session.Status == models.SessionInactive {
		active := models.SessionActive
		if err := r.store.UpdateSession(ctx, session.ID, store.SessionPatch{Status: &active}); err != nil {
			return err
		}
		session.Status = models.SessionActive
		r.logger.Debug("session reactivated", "session_id", session.ID)
	}
	r.resetTimer(session.ID)
	return nil
}

func (r *Registry) resetTimer(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if t, ok := r.timers[sessionID]; ok {
		t.Stop()
	}
	r.timers[sessionID] = time.AfterFunc(r.inactivity, func() {
		r.markInactive(sessionID)
	})
}

func (r *Registry) cancelTimer(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[sessionID]; ok {
		t.Stop()
		delete(r.timers, sessionID)
	}
}

// markInactive fires when the inactivity timer elapses. Only active sessions
// transition; archived and deleted sessions are left alone.
func (r *Registry) markInactive(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	if session.Status != models.SessionActive {
		return
	}
	inactive := models.SessionInactive
	if err := r.store.UpdateSession(ctx, sessionID, store.SessionPatch{Status: &inactive}); err != nil {
		r.logger.Warn("inactivity transition failed", "session_id", sessionID, "error", err)
		return
	}
	r.logger.Info("session inactive", "session_id", sessionID)

	r.mu.Lock()
	delete(r.timers, sessionID)
	r.mu.Unlock()
}

// Archive freezes a session. Archived sessions stay readable but refuse new
// turns until explicitly reactivated.
func (r *Registry) Archive(ctx context.Context, id string) error {
	archived := models.SessionArchived
	if err := r.store.UpdateSession(ctx, id, store.SessionPatch{Status: &archived}); err != nil {
		return err
	}
	r.cancelTimer(id)
	return nil
}

// SoftDelete hides a session from listings and reads; rows stay in the store
// until an admin hard delete.
func (r *Registry) SoftDelete(ctx context.Context, id string) error {
	deleted := models.SessionDeleted
	if err := r.store.UpdateSession(ctx, id, store.SessionPatch{Status: &deleted}); err != nil {
		return err
	}
	r.cancelTimer(id)
	return nil
}

// HardDelete removes the session and all dependent rows.
func (r *Registry) HardDelete(ctx context.Context, id string) error {
	if err := r.store.HardDeleteSession(ctx, id); err != nil {
		return err
	}
	r.cancelTimer(id)
	return nil
}

// MarkRead acknowledges delivered assistant messages.
func (r *Registry) MarkRead(ctx context.Context, id string) error {
	return r.store.UpdateSession(ctx, id, store.SessionPatch{ResetUnread: true})
}

// Rename updates the session title.
func (r *Registry) Rename(ctx context.Context, id, title string) error {
	return r.store.UpdateSession(ctx, id, store.SessionPatch{Title: &title})
}

// Settings returns the routing settings for a session.
func (r *Registry) Settings(ctx context.Context, id string) (models.SessionSettings, error) {
	session, err := r.Get(ctx, id)
	if err != nil {
		return models.SessionSettings{}, err
	}
	return session.Settings(), nil
}

// UpdateSettings persists routing settings into the session metadata.
func (r *Registry) UpdateSettings(ctx context.Context, id string, settings models.SessionSettings) error {
	return r.store.UpdateSession(ctx, id, store.SessionPatch{Metadata: settings.MetadataPatch()})
}

// RecordLastAgent remembers which agent handled the latest turn, feeding the
// router's continuity tie-break.
func (r *Registry) RecordLastAgent(ctx context.Context, id, agent string) error {
	return r.store.UpdateSession(ctx, id, store.SessionPatch{
		Metadata: map[string]any{models.MetaLastAgent: agent},
	})
}

// Close cancels all inactivity timers and the lock manager. Pending timers
// simply never fire; session status is left as-is for the next start.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()
	r.locks.Close()
}
