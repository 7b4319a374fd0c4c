// Package tools defines the tool contract, the registry that validates and
// dispatches calls, and the executor that runs them with timeouts and retry.
package tools

import (
	"context"
	"encoding/json"
)

// Capability tags what a tool is allowed to touch. Agents filter the
// registry by capability when building their tool set.
type Capability string

const (
	CapRead    Capability = "read"
	CapWrite   Capability = "write"
	CapNetwork Capability = "network"
	CapCompute Capability = "compute"
	// CapStreams marks tools that emit incremental output. Absent means the
	// tool returns one atomic result.
	CapStreams Capability = "streams"
)

// Tool is a capability exposed to agents. Implementations must be safe for
// concurrent use; the executor runs calls from many sessions at once.
type Tool interface {
	// Name is the stable identifier used in tool calls and persistence.
	Name() string
	// Version is a semver-ish version string surfaced in signatures.
	Version() string
	// Description is the human and model facing summary.
	Description() string
	// Schema is the JSON Schema for the tool's input parameters.
	Schema() json.RawMessage
	// Capabilities tag what the tool touches.
	Capabilities() []Capability
	// Execute runs the tool. Params have already passed schema validation.
	Execute(ctx context.Context, params json.RawMessage) (*Result, error)
}

// Result is a tool's output. IsError marks a tool-level failure that the
// agent can observe and react to; transport failures surface as Go errors.
type Result struct {
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"is_error,omitempty"`
}

// TextResult wraps a plain string as a JSON result payload.
func TextResult(text string) *Result {
	payload, _ := json.Marshal(map[string]string{"text": text})
	return &Result{Content: payload}
}

// ErrorResult builds a tool-level failure result.
func ErrorResult(message string) *Result {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return &Result{Content: payload, IsError: true}
}

// JSONResult marshals v as the result payload.
func JSONResult(v any) (*Result, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Result{Content: payload}, nil
}

// Call is a single tool invocation requested by an agent.
type Call struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Signature describes a registered tool for prompt rendering and the
// discovery endpoint.
type Signature struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Schema       json.RawMessage `json:"schema"`
	Capabilities []Capability    `json:"capabilities,omitempty"`
}
