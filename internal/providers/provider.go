// Package providers implements LLM backends behind a unified streaming
// interface. Adapters exist for Anthropic and OpenAI, plus a scripted mock
// for tests and the mock backend mode.
package providers

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/switchboard/internal/tools"
)

// Provider is a streaming LLM backend.
//
// Thread Safety:
// Implementations must be safe for concurrent use; each Complete call owns an
// independent stream.
type Provider interface {
	// Complete sends a request and returns a channel of response chunks. The
	// channel is closed after a Done or Error chunk.
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)

	// Name returns the provider identifier used in logs and metrics.
	Name() string

	// SupportsTools reports whether the provider can emit tool calls.
	SupportsTools() bool
}

// Request carries a full completion request.
type Request struct {
	// Model selects the provider model; empty uses the provider default.
	Model string `json:"model,omitempty"`

	// System is the system prompt, handled separately from messages.
	System string `json:"system,omitempty"`

	// Messages is the conversation in chronological order.
	Messages []Message `json:"messages"`

	// Tools declares the invocable tool surface for this request.
	Tools []tools.Signature `json:"tools,omitempty"`

	// MaxTokens caps the response length; 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Message is one conversation entry. Role is "system", "user", or
// "assistant"; tool results ride on the user message that follows the
// assistant's tool calls.
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolCall is a provider-requested tool invocation.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of an executed tool call, fed back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Chunk is a single element of a streaming response.
type Chunk struct {
	// Text is partial response text.
	Text string `json:"text,omitempty"`

	// ToolCall is a complete tool invocation request.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// Done marks successful stream completion.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`

	// InputTokens and OutputTokens are populated on the final chunk when the
	// provider reports usage.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

const defaultMaxTokens = 4096

func effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return defaultMaxTokens
}
