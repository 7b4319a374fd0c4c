// Package contextasm assembles the ordered message sequence handed to the
// model for a turn: system prompt, cross-session snippets, memory snippets,
// recent history, and the current user message.
package contextasm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/switchboard/internal/memory"
	"github.com/haasonsaas/switchboard/internal/store"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// Overflow strategies.
const (
	OverflowSlidingWindow = "sliding-window"
	OverflowTruncate      = "truncate"
	OverflowSummarize     = "summarize" // reserved; falls back to sliding-window
)

// Config tunes the assembler.
type Config struct {
	// MaxMessages caps the assembled sequence including system entries.
	// Default: 100
	MaxMessages int `yaml:"max_messages"`
	// Overflow picks the policy applied when history exceeds MaxMessages.
	Overflow string `yaml:"overflow"`
	// SystemSlots reserves room for system entries under sliding-window.
	// Default: 8
	SystemSlots int `yaml:"system_slots"`

	// CrossSessionSessions caps how many other sessions contribute. Default: 3
	CrossSessionSessions int `yaml:"cross_session_sessions"`
	// CrossSessionWindow is the recency window for those sessions. Default: 24h
	CrossSessionWindow time.Duration `yaml:"cross_session_window"`
	// CrossSessionMessages caps messages per contributing session. Default: 10
	CrossSessionMessages int `yaml:"cross_session_messages"`

	// MemorySnippets caps memory gateway results. Default: 3
	MemorySnippets int `yaml:"memory_snippets"`
}

// DefaultConfig returns the default assembler configuration.
func DefaultConfig() Config {
	return Config{
		MaxMessages:          100,
		Overflow:             OverflowSlidingWindow,
		SystemSlots:          8,
		CrossSessionSessions: 3,
		CrossSessionWindow:   24 * time.Hour,
		CrossSessionMessages: 10,
		MemorySnippets:       3,
	}
}

// Request carries the per-turn inputs.
type Request struct {
	Session      *models.Session
	UserText     string
	SystemPrompt string
	// CrossSession enables pulling snippets from the user's other sessions.
	CrossSession bool
	// Memory enables long-term memory snippets.
	Memory bool
}

// Assembler builds ContextBundles from the store and memory gateway.
type Assembler struct {
	store   store.Store
	gateway memory.Gateway
	config  Config
	logger  *slog.Logger
	nowFunc func() time.Time
}

// New creates an assembler. A nil gateway disables memory snippets.
func New(st store.Store, gateway memory.Gateway, config Config, logger *slog.Logger) *Assembler {
	defaults := DefaultConfig()
	if config.MaxMessages <= 0 {
		config.MaxMessages = defaults.MaxMessages
	}
	if config.Overflow == "" {
		config.Overflow = defaults.Overflow
	}
	if config.SystemSlots <= 0 {
		config.SystemSlots = defaults.SystemSlots
	}
	if config.CrossSessionSessions <= 0 {
		config.CrossSessionSessions = defaults.CrossSessionSessions
	}
	if config.CrossSessionWindow <= 0 {
		config.CrossSessionWindow = defaults.CrossSessionWindow
	}
	if config.CrossSessionMessages <= 0 {
		config.CrossSessionMessages = defaults.CrossSessionMessages
	}
	if config.MemorySnippets <= 0 {
		config.MemorySnippets = defaults.MemorySnippets
	}
	if gateway == nil {
		gateway = memory.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		store:   st,
		gateway: gateway,
		config:  config,
		logger:  logger.With("component", "contextasm"),
		nowFunc: time.Now,
	}
}

// Assemble builds the bundle for a turn. Degradations (memory failures,
// summarize fallback) are marked on the bundle, never returned as errors;
// only history reads can fail the call.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*models.ContextBundle, error) {
	bundle := &models.ContextBundle{SystemPrompt: req.SystemPrompt}

	if req.CrossSession {
		bundle.CrossSessionSnippets = a.crossSessionSnippets(ctx, req.Session)
	}
	if req.Memory {
		entries, err := a.gateway.QueryRelevant(ctx, req.Session.UserID, req.UserText, a.config.MemorySnippets)
		if err != nil {
			a.logger.Warn("memory query degraded", "session_id", req.Session.ID, "error", err)
			bundle.Degraded = true
			bundle.DegradedReason = "memory_unavailable"
		}
		for _, e := range entries {
			bundle.MemorySnippets = append(bundle.MemorySnippets, models.Snippet{
				Source:    models.SnippetMemory,
				SessionID: e.SessionID,
				Content:   e.Content,
				Score:     e.Score,
			})
		}
	}

	systemCount := a.systemEntryCount(bundle)
	historyBudget := a.config.MaxMessages - systemCount - 1 // reserve the current user slot
	if historyBudget < 0 {
		historyBudget = 0
	}
	// Read one extra row: the pipeline persists the current user message
	// before assembly, and it re-enters below as UserText with any slash
	// command stripped. Every prior turn ends with an assistant row, so a
	// trailing user message is always the current one.
	history, err := a.store.ReadLastMessages(ctx, req.Session.ID, historyBudget+1)
	if err != nil {
		return nil, err
	}
	if n := len(history); n > 0 && history[n-1].Type == models.MessageUser {
		history = history[:n-1]
	}
	if len(history) > historyBudget {
		history = history[len(history)-historyBudget:]
	}
	if a.config.Overflow == OverflowSummarize && req.Session.MessageCount > historyBudget {
		// History was windowed where a summary was requested.
		bundle.Degraded = true
		if bundle.DegradedReason == "" {
			bundle.DegradedReason = "summarizer_unavailable"
		}
	}

	messages := a.systemEntries(bundle)
	for _, msg := range history {
		messages = append(messages, models.PromptMessage{Role: msg.Type, Content: msg.Content})
	}
	messages = append(messages, models.PromptMessage{Role: models.MessageUser, Content: req.UserText})

	bundle.Messages = a.applyOverflow(bundle, messages)
	for _, m := range bundle.Messages {
		bundle.EstimatedTokens += models.EstimateTokens(m.Content)
	}
	return bundle, nil
}

// crossSessionSnippets pulls recent messages from the user's other active
// sessions. Sessions without a user id, or belonging to a different user,
// never contribute.
func (a *Assembler) crossSessionSnippets(ctx context.Context, session *models.Session) []models.Snippet {
	if session.UserID == "" {
		return nil
	}
	candidates, err := a.store.ListSessions(ctx, store.ListOptions{
		UserID:    session.UserID,
		Status:    models.SessionActive,
		SortBy:    "last_activity_at",
		SortOrder: store.SortDesc,
		Limit:     a.config.CrossSessionSessions + 1, // current session may be in the page
	})
	if err != nil {
		a.logger.Warn("cross-session listing failed", "error", err)
		return nil
	}

	cutoff := a.nowFunc().Add(-a.config.CrossSessionWindow)
	var snippets []models.Snippet
	used := 0
	for _, candidate := range candidates {
		if used >= a.config.CrossSessionSessions {
			break
		}
		if candidate.ID == session.ID || candidate.UserID != session.UserID {
			continue
		}
		if candidate.LastActivityAt.Before(cutoff) {
			continue
		}
		msgs, err := a.store.ReadLastMessages(ctx, candidate.ID, a.config.CrossSessionMessages)
		if err != nil || len(msgs) == 0 {
			continue
		}
		var sb strings.Builder
		for _, msg := range msgs {
			fmt.Fprintf(&sb, "[%s] %s\n", msg.Type, msg.Content)
		}
		snippets = append(snippets, models.Snippet{
			Source:    models.SnippetCrossSession,
			SessionID: candidate.ID,
			Content:   strings.TrimRight(sb.String(), "\n"),
		})
		used++
	}
	return snippets
}

// systemEntryCount is the number of leading system messages the bundle
// contributes: the system prompt plus one entry per snippet block.
func (a *Assembler) systemEntryCount(bundle *models.ContextBundle) int {
	n := 0
	if bundle.SystemPrompt != "" {
		n++
	}
	if len(bundle.CrossSessionSnippets) > 0 {
		n++
	}
	if len(bundle.MemorySnippets) > 0 {
		n++
	}
	return n
}

func (a *Assembler) systemEntries(bundle *models.ContextBundle) []models.PromptMessage {
	var out []models.PromptMessage
	if bundle.SystemPrompt != "" {
		out = append(out, models.PromptMessage{Role: models.MessageSystem, Content: bundle.SystemPrompt})
	}
	if len(bundle.CrossSessionSnippets) > 0 {
		out = append(out, models.PromptMessage{
			Role:    models.MessageSystem,
			Content: "Relevant context from your other recent conversations:\n" + joinSnippets(bundle.CrossSessionSnippets),
		})
	}
	if len(bundle.MemorySnippets) > 0 {
		out = append(out, models.PromptMessage{
			Role:    models.MessageSystem,
			Content: "Relevant long-term memory:\n" + joinSnippets(bundle.MemorySnippets),
		})
	}
	return out
}

func joinSnippets(snippets []models.Snippet) string {
	parts := make([]string, len(snippets))
	for i, s := range snippets {
		parts[i] = "- " + s.Content
	}
	return strings.Join(parts, "\n")
}

// applyOverflow enforces MaxMessages. The current user message (the final
// entry) is never dropped.
func (a *Assembler) applyOverflow(bundle *models.ContextBundle, messages []models.PromptMessage) []models.PromptMessage {
	max := a.config.MaxMessages
	if len(messages) <= max {
		return messages
	}

	strategy := a.config.Overflow
	if strategy == OverflowSummarize {
		// No summarizer wired; degrade to the windowed policy.
		bundle.Degraded = true
		if bundle.DegradedReason == "" {
			bundle.DegradedReason = "summarizer_unavailable"
		}
		strategy = OverflowSlidingWindow
	}

	switch strategy {
	case OverflowTruncate:
		return messages[len(messages)-max:]
	default: // sliding-window
		var system, rest []models.PromptMessage
		for _, m := range messages {
			if m.Role == models.MessageSystem {
				system = append(system, m)
			} else {
				rest = append(rest, m)
			}
		}
		if len(system) > a.config.SystemSlots {
			system = system[:a.config.SystemSlots]
		}
		keep := max - len(system)
		if keep < 1 {
			keep = 1 // the current user message survives regardless
		}
		if len(rest) > keep {
			rest = rest[len(rest)-keep:]
		}
		return append(system, rest...)
	}
}
