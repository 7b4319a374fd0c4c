package builtin

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/internal/memory"
	"github.com/haasonsaas/switchboard/internal/tools"
)

// MemorySearch queries the long-term memory service. Results are scoped to
// the user attached to the execution context; a call without a user yields
// nothing rather than leaking across users.
type MemorySearch struct {
	gateway memory.Gateway
}

// NewMemorySearch creates the memory_search tool.
func NewMemorySearch(gateway memory.Gateway) *MemorySearch {
	return &MemorySearch{gateway: gateway}
}

func (t *MemorySearch) Name() string        { return "memory_search" }
func (t *MemorySearch) Version() string     { return "1.0.0" }
func (t *MemorySearch) Description() string {
	return "Search the user's long-term memory for relevant past exchanges."
}

func (t *MemorySearch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "minLength": 1},
			"limit": {"type": "integer", "minimum": 1, "maximum": 10}
		},
		"required": ["query"],
		"additionalProperties": false
	}`)
}

func (t *MemorySearch) Capabilities() []tools.Capability {
	return []tools.Capability{tools.CapRead, tools.CapNetwork}
}

func (t *MemorySearch) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, err
	}

	userID := tools.UserIDFrom(ctx)
	if userID == "" {
		return tools.JSONResult(map[string]any{"entries": []memory.Entry{}})
	}

	entries, err := t.gateway.QueryRelevant(ctx, userID, in.Query, in.Limit)
	if err != nil {
		// Memory is best-effort: surface the failure as a degraded tool
		// result the agent can mention, not a hard error.
		return nil, errs.Wrap(errs.KindDegraded, "memory unavailable", err)
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	return tools.JSONResult(map[string]any{"entries": entries})
}
