package models

// StreamEventType enumerates the wire events of a streaming turn.
type StreamEventType string

const (
	EventStart      StreamEventType = "start"
	EventToken      StreamEventType = "token"
	EventStatus     StreamEventType = "status"
	EventToolStart  StreamEventType = "tool_start"
	EventToolResult StreamEventType = "tool_result"
	EventEnd        StreamEventType = "end"
	EventError      StreamEventType = "error"
)

// Terminal reports whether the event closes the stream. A stream carries
// exactly one terminal event and it is the last event.
func (t StreamEventType) Terminal() bool {
	return t == EventEnd || t == EventError
}

// StartPayload opens a turn stream.
type StartPayload struct {
	Agent     string `json:"agent"`
	SessionID string `json:"session_id"`
}

// TokenPayload carries one streamed token.
type TokenPayload struct {
	Content string `json:"content"`
}

// StatusPayload carries agent-produced progress markers.
type StatusPayload struct {
	Message string `json:"message"`
}

// ToolStartPayload announces a tool invocation. It always precedes the
// matching ToolResultPayload for the same ToolID.
type ToolStartPayload struct {
	ToolID   string         `json:"tool_id"`
	ToolName string         `json:"tool_name"`
	Params   map[string]any `json:"params,omitempty"`
}

// ToolResultPayload reports the outcome of a tool invocation.
type ToolResultPayload struct {
	ToolID     string `json:"tool_id"`
	Success    bool   `json:"success"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// EndPayload closes a successful turn with the full assistant content.
type EndPayload struct {
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ErrorPayload closes a failed turn.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StreamEvent is a typed event on the turn stream.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Payload any             `json:"payload"`
}
