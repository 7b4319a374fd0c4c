package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Local is an in-process gateway used by the mock backend mode and tests.
// Relevance is naive term overlap, which is enough to exercise the
// degraded-path and snippet plumbing without a real service.
type Local struct {
	mu    sync.RWMutex
	turns []localTurn
}

type localTurn struct {
	Turn
	at time.Time
}

// NewLocal creates an empty local gateway.
func NewLocal() *Local {
	return &Local{}
}

func (l *Local) AddTurn(ctx context.Context, turn Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, localTurn{Turn: turn, at: time.Now()})
	return nil
}

func (l *Local) QueryRelevant(ctx context.Context, userID, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 3
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var entries []Entry
	for _, t := range l.turns {
		if t.UserID != userID {
			continue
		}
		text := strings.ToLower(t.User + " " + t.Assistant)
		matched := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		entries = append(entries, Entry{
			SessionID: t.SessionID,
			Content:   t.User + " / " + t.Assistant,
			Score:     float64(matched) / float64(len(terms)),
			CreatedAt: t.at,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (l *Local) DeleteSession(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.turns[:0]
	for _, t := range l.turns {
		if t.SessionID != sessionID {
			kept = append(kept, t)
		}
	}
	l.turns = kept
	return nil
}
