package models

import (
	"encoding/json"
	"time"
)

// ToolExecutionStatus is the lifecycle state of a tool execution record.
type ToolExecutionStatus string

const (
	ToolExecPending ToolExecutionStatus = "pending"
	ToolExecSuccess ToolExecutionStatus = "success"
	ToolExecError   ToolExecutionStatus = "error"
)

// Terminal reports whether the status is a terminal one.
func (s ToolExecutionStatus) Terminal() bool {
	return s == ToolExecSuccess || s == ToolExecError
}

// AbandonedReason is recorded on executions left pending at shutdown.
const AbandonedReason = "abandoned"

// ToolExecution is the durable record of a single tool invocation. It is
// created in pending state before the tool runs and transitioned exactly once
// to success or error.
type ToolExecution struct {
	ID           string              `json:"id"`
	SessionID    string              `json:"session_id"`
	MessageID    int64               `json:"message_id,omitempty"`
	ToolName     string              `json:"tool_name"`
	Input        json.RawMessage     `json:"input"`
	Output       json.RawMessage     `json:"output,omitempty"`
	Status       ToolExecutionStatus `json:"status"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	DurationMs   int64               `json:"duration_ms,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
}

// ToolExecutionPatch carries the terminal transition for an execution row.
type ToolExecutionPatch struct {
	MessageID    int64
	Output       json.RawMessage
	Status       ToolExecutionStatus
	CompletedAt  time.Time
	DurationMs   int64
	ErrorMessage string
}
