package routing

import (
	"context"
	"regexp"
	"strings"
)

// Score is a single agent's classifier output.
type Score struct {
	Agent      string
	Confidence float64
}

// Classifier scores the user text against the agent set. Implementations must
// be side-effect free; the router calls them on every non-overridden turn.
type Classifier interface {
	Classify(ctx context.Context, text string) ([]Score, error)
}

var (
	codeRegex      = regexp.MustCompile(`(?i)\b(code|debug|stack ?trace|compile|function|error|exception|api|deploy|server|database|sql|regex|script|install|config)\b`)
	markdownCode   = regexp.MustCompile("```|`[^`]+`")
	analysisRegex  = regexp.MustCompile(`(?i)\b(analy[sz]e|compare|evaluate|summar|explain|why|data|metric|trend|report|calculate|estimate|forecast)\b`)
	creativeRegex  = regexp.MustCompile(`(?i)\b(write|draft|story|poem|brainstorm|idea|name|slogan|creative|imagine|design|blog|headline)\b`)
	supportRegex   = regexp.MustCompile(`(?i)\b(refund|cancel|broken|not working|complaint|charged|billing|account|order|help me|issue|problem|support)\b`)
	crmRegex       = regexp.MustCompile(`(?i)\b(contact|deal|pipeline|lead|customer record|crm|opportunity|account manager|follow.?up)\b`)
	questionRegex  = regexp.MustCompile(`\?\s*$`)
	imperativeWord = regexp.MustCompile(`(?i)^(please\s+)?(write|draft|create|compose|make)\b`)
)

// KeywordClassifier scores text with precompiled keyword patterns. Each
// pattern hit adds weight; scores are clamped to [0, 1].
type KeywordClassifier struct{}

// NewKeywordClassifier creates the default classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify scores text for every agent. The returned slice always covers the
// full agent set so callers can arg-max without missing-key handling.
func (c *KeywordClassifier) Classify(ctx context.Context, text string) ([]Score, error) {
	trimmed := strings.TrimSpace(text)

	scores := map[string]float64{
		"analytical":       0,
		"creative":         0,
		"technical":        0,
		"customer-support": 0,
		"crm":              0,
	}

	for range codeRegex.FindAllString(trimmed, -1) {
		scores["technical"] += 0.2
	}
	if markdownCode.MatchString(trimmed) {
		scores["technical"] += 0.4
	}
	for range analysisRegex.FindAllString(trimmed, -1) {
		scores["analytical"] += 0.2
	}
	if questionRegex.MatchString(trimmed) {
		scores["analytical"] += 0.1
	}
	for range creativeRegex.FindAllString(trimmed, -1) {
		scores["creative"] += 0.2
	}
	if imperativeWord.MatchString(trimmed) {
		scores["creative"] += 0.15
	}
	for range supportRegex.FindAllString(trimmed, -1) {
		scores["customer-support"] += 0.25
	}
	for range crmRegex.FindAllString(trimmed, -1) {
		scores["crm"] += 0.25
	}

	out := make([]Score, 0, len(scores))
	for agent, score := range scores {
		if score > 1 {
			score = 1
		}
		out = append(out, Score{Agent: agent, Confidence: score})
	}
	return out, nil
}
