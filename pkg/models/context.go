package models

// SnippetSource identifies where a context snippet came from.
type SnippetSource string

const (
	SnippetCrossSession SnippetSource = "cross_session"
	SnippetMemory       SnippetSource = "memory"
)

// Snippet is a piece of prior text included in the bundle for grounding.
type Snippet struct {
	Source    SnippetSource `json:"source"`
	SessionID string        `json:"session_id,omitempty"`
	Content   string        `json:"content"`
	Score     float64       `json:"score,omitempty"`
}

// PromptMessage is one entry in the ordered sequence handed to the model.
type PromptMessage struct {
	Role    MessageType `json:"role"`
	Content string      `json:"content"`
}

// ContextBundle is the assembled, ordered input for a single turn. It is
// ephemeral and never persisted.
type ContextBundle struct {
	SystemPrompt         string
	CrossSessionSnippets []Snippet
	MemorySnippets       []Snippet
	Messages             []PromptMessage
	Degraded             bool
	DegradedReason       string
	EstimatedTokens      int
}

// EstimateTokens approximates the token cost of a piece of content.
// The budget is an estimate only: ceil(len/4) + 4 per message.
func EstimateTokens(content string) int {
	return (len(content)+3)/4 + 4
}
