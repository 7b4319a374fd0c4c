package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrLockTimeout is returned when acquiring a turn lock times out.
	ErrLockTimeout = errors.New("sessions: lock acquisition timeout")

	// ErrLockHeld is returned by TryAcquire when another turn is in flight.
	ErrLockHeld = errors.New("sessions: lock held by another turn")
)

// turnLock serializes turns for one session. Waiters queue in arrival order
// and the lock is handed to the head of the queue on release, so concurrent
// turns for the same session run first-come-first-served.
type turnLock struct {
	mu       sync.Mutex
	held     bool
	holder   string
	acquired time.Time
	waiters  []chan struct{}
}

// LockManager hands out per-session turn locks. A session has at most one
// writer at a time; reads never take the lock.
//
// Thread Safety:
// LockManager is safe for concurrent use.
type LockManager struct {
	mu         sync.RWMutex
	locks      map[string]*turnLock
	defaultTTL time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewLockManager creates a lock manager. defaultTTL bounds Acquire when the
// caller passes no timeout.
func NewLockManager(defaultTTL time.Duration) *LockManager {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	m := &LockManager{
		locks:      make(map[string]*turnLock),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

func (m *LockManager) lockFor(sessionID string) *turnLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &turnLock{}
		m.locks[sessionID] = lock
	}
	return lock
}

// Acquire takes the turn lock for the session, waiting in FIFO order behind
// earlier callers. It returns a release function that must be called exactly
// once, normally deferred for the life of the turn.
func (m *LockManager) Acquire(ctx context.Context, sessionID, holder string, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = m.defaultTTL
	}
	lock := m.lockFor(sessionID)

	lock.mu.Lock()
	if !lock.held {
		lock.held = true
		lock.holder = holder
		lock.acquired = time.Now()
		lock.mu.Unlock()
		return m.releaseFunc(lock), nil
	}

	ticket := make(chan struct{})
	lock.waiters = append(lock.waiters, ticket)
	lock.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ticket:
		// Handed the lock by the previous holder; held stays true.
		lock.mu.Lock()
		lock.holder = holder
		lock.acquired = time.Now()
		lock.mu.Unlock()
		return m.releaseFunc(lock), nil
	case <-timer.C:
		m.abandonTicket(lock, ticket)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		m.abandonTicket(lock, ticket)
		return nil, ctx.Err()
	}
}

// TryAcquire takes the lock only if no turn is in flight.
func (m *LockManager) TryAcquire(sessionID, holder string) (func(), error) {
	lock := m.lockFor(sessionID)

	lock.mu.Lock()
	defer lock.mu.Unlock()
	if lock.held {
		return nil, ErrLockHeld
	}
	lock.held = true
	lock.holder = holder
	lock.acquired = time.Now()
	return m.releaseFunc(lock), nil
}

func (m *LockManager) releaseFunc(lock *turnLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Lock()
			defer lock.mu.Unlock()
			if len(lock.waiters) > 0 {
				// Hand off to the next waiter without dropping held.
				next := lock.waiters[0]
				lock.waiters = lock.waiters[1:]
				close(next)
				return
			}
			lock.held = false
			lock.holder = ""
		})
	}
}

// abandonTicket removes a waiter that gave up. If the ticket was already
// handed the lock, pass it on so the handoff is not lost.
func (m *LockManager) abandonTicket(lock *turnLock, ticket chan struct{}) {
	lock.mu.Lock()
	for i, w := range lock.waiters {
		if w == ticket {
			lock.waiters = append(lock.waiters[:i], lock.waiters[i+1:]...)
			lock.mu.Unlock()
			return
		}
	}
	lock.mu.Unlock()

	select {
	case <-ticket:
		m.releaseFunc(lock)()
	default:
	}
}

// IsLocked reports whether a turn currently holds the session.
func (m *LockManager) IsLocked(sessionID string) bool {
	m.mu.RLock()
	lock, ok := m.locks[sessionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	lock.mu.Lock()
	defer lock.mu.Unlock()
	return lock.held
}

// Holder returns the current lock holder, if any.
func (m *LockManager) Holder(sessionID string) (holder string, since time.Time, held bool) {
	m.mu.RLock()
	lock, ok := m.locks[sessionID]
	m.mu.RUnlock()
	if !ok {
		return "", time.Time{}, false
	}
	lock.mu.Lock()
	defer lock.mu.Unlock()
	return lock.holder, lock.acquired, lock.held
}

// Close stops the background cleanup loop.
func (m *LockManager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *LockManager) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stop:
			return
		}
	}
}

// cleanup drops idle lock entries that have not been touched recently.
func (m *LockManager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for id, lock := range m.locks {
		lock.mu.Lock()
		if !lock.held && len(lock.waiters) == 0 && lock.acquired.Before(cutoff) {
			delete(m.locks, id)
		}
		lock.mu.Unlock()
	}
}
