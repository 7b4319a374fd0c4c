package routing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/haasonsaas/switchboard/pkg/models"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubClassifier struct {
	scores []Score
	err    error
}

func (s stubClassifier) Classify(ctx context.Context, text string) ([]Score, error) {
	return s.scores, s.err
}

func newRouter(c Classifier) *Router {
	return New(NewSlashRegistry(), c, DefaultConfig(), discard())
}

func TestSlashCommandWins(t *testing.T) {
	r := newRouter(stubClassifier{scores: []Score{{Agent: "technical", Confidence: 0.9}}})

	decision, rest := r.Route(context.Background(), "/crm find the acme deal", models.SessionSettings{
		AgentLock: true,
		LastAgent: "creative",
	})
	if decision.Agent != "crm" || decision.OverrideSource != models.OverrideSlash {
		t.Errorf("slash must outrank lock and classifier, got %+v", decision)
	}
	if decision.Confidence != 1.0 {
		t.Errorf("slash confidence must be 1.0, got %v", decision.Confidence)
	}
	if rest != "find the acme deal" {
		t.Errorf("command not stripped: %q", rest)
	}
}

func TestUnknownSlashRoutesNormally(t *testing.T) {
	r := newRouter(stubClassifier{scores: []Score{{Agent: "technical", Confidence: 0.9}}})

	decision, rest := r.Route(context.Background(), "/frobnicate the widget", models.SessionSettings{})
	if decision.OverrideSource == models.OverrideSlash {
		t.Errorf("unknown command must not route as slash: %+v", decision)
	}
	if rest != "/frobnicate the widget" {
		t.Errorf("unknown command must stay in the text: %q", rest)
	}
}

func TestAgentLockPinsLastAgent(t *testing.T) {
	r := newRouter(stubClassifier{scores: []Score{{Agent: "technical", Confidence: 0.9}}})

	decision, _ := r.Route(context.Background(), "anything at all", models.SessionSettings{
		AgentLock: true,
		LastAgent: "creative",
	})
	if decision.Agent != "creative" || decision.OverrideSource != models.OverrideLock {
		t.Errorf("lock must pin the last agent, got %+v", decision)
	}
}

func TestLockWithoutLastAgentFallsThrough(t *testing.T) {
	r := newRouter(stubClassifier{scores: []Score{{Agent: "technical", Confidence: 0.9}}})

	decision, _ := r.Route(context.Background(), "x", models.SessionSettings{AgentLock: true})
	if decision.OverrideSource != models.OverrideRouter {
		t.Errorf("lock without last agent must use the classifier, got %+v", decision)
	}
}

func TestClassifierArgMax(t *testing.T) {
	r := newRouter(stubClassifier{scores: []Score{
		{Agent: "analytical", Confidence: 0.4},
		{Agent: "technical", Confidence: 0.7},
		{Agent: "creative", Confidence: 0.2},
	}})

	decision, _ := r.Route(context.Background(), "x", models.SessionSettings{})
	if decision.Agent != "technical" || decision.Confidence != 0.7 {
		t.Errorf("expected technical@0.7, got %+v", decision)
	}
	if decision.OverrideSource != models.OverrideRouter {
		t.Errorf("wrong source: %+v", decision)
	}
}

func TestTieBreakPreference(t *testing.T) {
	scores := []Score{
		{Agent: "technical", Confidence: 0.5},
		{Agent: "creative", Confidence: 0.5},
		{Agent: "analytical", Confidence: 0.5},
	}

	r := newRouter(stubClassifier{scores: scores})
	decision, _ := r.Route(context.Background(), "x", models.SessionSettings{AgentPreference: "technical"})
	if decision.Agent != "technical" {
		t.Errorf("preference must win ties, got %+v", decision)
	}

	decision, _ = r.Route(context.Background(), "x", models.SessionSettings{LastAgent: "creative"})
	if decision.Agent != "creative" {
		t.Errorf("last agent must win ties after preference, got %+v", decision)
	}

	decision, _ = r.Route(context.Background(), "x", models.SessionSettings{})
	if decision.Agent != "analytical" {
		t.Errorf("lexicographic order must break remaining ties, got %+v", decision)
	}
}

func TestLowConfidenceFallsBack(t *testing.T) {
	r := newRouter(stubClassifier{scores: []Score{{Agent: "technical", Confidence: 0.1}}})

	decision, _ := r.Route(context.Background(), "hm", models.SessionSettings{})
	if decision.Agent != DefaultAgent || decision.OverrideSource != models.OverrideFallback {
		t.Errorf("sub-threshold confidence must fall back, got %+v", decision)
	}
}

func TestClassifierErrorFallsBack(t *testing.T) {
	r := newRouter(stubClassifier{err: errors.New("classifier down")})

	decision, _ := r.Route(context.Background(), "x", models.SessionSettings{})
	if decision.Agent != DefaultAgent || decision.OverrideSource != models.OverrideFallback {
		t.Errorf("classifier failure must fall back, got %+v", decision)
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	r := newRouter(NewKeywordClassifier())
	settings := models.SessionSettings{AgentPreference: "technical"}

	first, _ := r.Route(context.Background(), "why does my sql query error out?", settings)
	for i := 0; i < 20; i++ {
		again, _ := r.Route(context.Background(), "why does my sql query error out?", settings)
		if again != first {
			t.Fatalf("routing not deterministic: %+v vs %+v", first, again)
		}
	}
}

func TestKeywordClassifierSignals(t *testing.T) {
	c := NewKeywordClassifier()
	cases := []struct {
		text string
		want string
	}{
		{"debug this stack trace from my server", "technical"},
		{"write a poem about autumn", "creative"},
		{"I want a refund, my order is broken", "customer-support"},
		{"show the acme deal in the pipeline", "crm"},
		{"analyze the Q3 revenue trend and explain the data", "analytical"},
	}
	for _, tc := range cases {
		scores, err := c.Classify(context.Background(), tc.text)
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		top := scores[0]
		for _, s := range scores[1:] {
			if s.Confidence > top.Confidence {
				top = s
			}
		}
		if top.Agent != tc.want {
			t.Errorf("%q routed to %s (%.2f), want %s", tc.text, top.Agent, top.Confidence, tc.want)
		}
	}
}

func TestParseSlash(t *testing.T) {
	cases := []struct {
		in      string
		cmd     string
		rest    string
		matched bool
	}{
		{"/tech fix this", "tech", "fix this", true},
		{"/tech", "tech", "", true},
		{"  /TECH mixed case  ", "tech", "mixed case", true},
		{"no slash here", "", "no slash here", false},
		{"/", "", "/", false},
		{"not /tech inline", "", "not /tech inline", false},
	}
	for _, tc := range cases {
		cmd, rest, ok := ParseSlash(tc.in)
		if ok != tc.matched || cmd != tc.cmd || rest != tc.rest {
			t.Errorf("ParseSlash(%q) = (%q, %q, %v), want (%q, %q, %v)", tc.in, cmd, rest, ok, tc.cmd, tc.rest, tc.matched)
		}
	}
}

func TestSlashRegistryList(t *testing.T) {
	r := NewSlashRegistry()
	list := r.List()
	if len(list) != 5 {
		t.Fatalf("expected 5 default commands, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Name >= list[i].Name {
			t.Errorf("list not sorted at %d: %q >= %q", i, list[i-1].Name, list[i].Name)
		}
	}
}
