package models

import "time"

// MessageType indicates the message author side.
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageSystem    MessageType = "system"
)

// Valid returns true for a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageUser, MessageAssistant, MessageSystem:
		return true
	}
	return false
}

// Message is a single turn side within a session. Messages are append-only:
// never updated, never reordered. Ordering within a session is by
// (CreatedAt, ID) ascending with ID breaking ties.
type Message struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Type      MessageType    `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Metadata keys written by the turn pipeline onto assistant messages.
const (
	MetaAgent          = "agent"
	MetaRouterDecision = "router"
	MetaToolsUsed      = "tools_used"
	MetaMemory         = "memory"
	MetaDegraded       = "degraded"
	MetaTurnStatus     = "status"
	MetaTurnError      = "error"
)

// Turn status values recorded under MetaTurnStatus.
const (
	TurnStatusOK        = "ok"
	TurnStatusError     = "error"
	TurnStatusCancelled = "cancelled"
)
