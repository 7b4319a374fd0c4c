// Package routing selects the agent for a turn. Selection is a pure function
// of the user text, the session settings, and the classifier output; the
// router never touches the store.
package routing

import (
	"context"
	"log/slog"
	"sort"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// DefaultThreshold is the minimum classifier confidence accepted before the
// router falls back to the default agent.
const DefaultThreshold = 0.30

// DefaultAgent receives every turn no other rule claims.
const DefaultAgent = "analytical"

// Config tunes the router.
type Config struct {
	// Threshold is the minimum accepted classifier confidence. Default: 0.30
	Threshold float64 `yaml:"threshold"`
	// DefaultAgent is the fallback agent. Default: analytical
	DefaultAgent string `yaml:"default_agent"`
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, DefaultAgent: DefaultAgent}
}

// Router applies the decision cascade: slash command, agent lock, classifier,
// fallback.
type Router struct {
	slash      *SlashRegistry
	classifier Classifier
	config     Config
	logger     *slog.Logger
}

// New creates a router. A nil classifier forces the fallback branch.
func New(slash *SlashRegistry, classifier Classifier, config Config, logger *slog.Logger) *Router {
	if config.Threshold <= 0 {
		config.Threshold = DefaultThreshold
	}
	if config.DefaultAgent == "" {
		config.DefaultAgent = DefaultAgent
	}
	if slash == nil {
		slash = NewSlashRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		slash:      slash,
		classifier: classifier,
		config:     config,
		logger:     logger.With("component", "router"),
	}
}

// Slash exposes the slash command registry for the discovery endpoint.
func (r *Router) Slash() *SlashRegistry { return r.slash }

// Route picks the agent for a turn and returns the text with any slash
// command stripped. Precedence: slash command, agent lock, classifier,
// fallback.
func (r *Router) Route(ctx context.Context, text string, settings models.SessionSettings) (models.RouterDecision, string) {
	if name, rest, ok := ParseSlash(text); ok {
		if cmd, found := r.slash.Lookup(name); found {
			return models.RouterDecision{
				Agent:          cmd.Agent,
				Confidence:     1.0,
				Reason:         "slash",
				OverrideSource: models.OverrideSlash,
			}, rest
		}
		// Unknown command: the text routes normally, slash included.
	}

	if settings.AgentLock && settings.LastAgent != "" {
		return models.RouterDecision{
			Agent:          settings.LastAgent,
			Confidence:     1.0,
			Reason:         "locked",
			OverrideSource: models.OverrideLock,
		}, text
	}

	if decision, ok := r.classify(ctx, text, settings); ok {
		return decision, text
	}

	return models.RouterDecision{
		Agent:          r.config.DefaultAgent,
		Confidence:     0,
		Reason:         "fallback",
		OverrideSource: models.OverrideFallback,
	}, text
}

// classify runs the classifier and arg-maxes its scores. Ties break in favor
// of the session's agent preference, then its last agent, then lexicographic
// order, so equal inputs always produce equal decisions.
func (r *Router) classify(ctx context.Context, text string, settings models.SessionSettings) (models.RouterDecision, bool) {
	if r.classifier == nil {
		return models.RouterDecision{}, false
	}
	scores, err := r.classifier.Classify(ctx, text)
	if err != nil {
		r.logger.Warn("classifier failed, using fallback", "error", err)
		return models.RouterDecision{}, false
	}
	if len(scores) == 0 {
		return models.RouterDecision{}, false
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Confidence != scores[j].Confidence {
			return scores[i].Confidence > scores[j].Confidence
		}
		return tieRank(scores[i].Agent, settings) < tieRank(scores[j].Agent, settings)
	})
	// Lexicographic last, inside equal tie ranks.
	top := scores[0]
	for _, s := range scores[1:] {
		if s.Confidence != top.Confidence || tieRank(s.Agent, settings) != tieRank(top.Agent, settings) {
			break
		}
		if s.Agent < top.Agent {
			top = s
		}
	}

	if top.Confidence < r.config.Threshold {
		return models.RouterDecision{}, false
	}
	return models.RouterDecision{
		Agent:          top.Agent,
		Confidence:     top.Confidence,
		Reason:         "classifier",
		OverrideSource: models.OverrideRouter,
	}, true
}

func tieRank(agent string, settings models.SessionSettings) int {
	switch agent {
	case settings.AgentPreference:
		return 0
	case settings.LastAgent:
		return 1
	}
	return 2
}
