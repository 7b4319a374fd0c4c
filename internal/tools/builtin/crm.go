// Package builtin holds the tools shipped with the server: CRM lookups,
// memory search, datetime, and a calculator.
package builtin

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/switchboard/internal/crm"
	"github.com/haasonsaas/switchboard/internal/tools"
)

// ContactSearch looks up CRM contacts by name, email, or company.
type ContactSearch struct {
	client *crm.Client
}

// NewContactSearch creates the contact_search tool.
func NewContactSearch(client *crm.Client) *ContactSearch {
	return &ContactSearch{client: client}
}

func (t *ContactSearch) Name() string        { return "contact_search" }
func (t *ContactSearch) Version() string     { return "1.0.0" }
func (t *ContactSearch) Description() string {
	return "Search CRM contacts by name, email, or company."
}

func (t *ContactSearch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "minLength": 1},
			"limit": {"type": "integer", "minimum": 1, "maximum": 20}
		},
		"required": ["query"],
		"additionalProperties": false
	}`)
}

func (t *ContactSearch) Capabilities() []tools.Capability {
	return []tools.Capability{tools.CapRead, tools.CapNetwork}
}

func (t *ContactSearch) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, err
	}
	contacts, err := t.client.SearchContacts(ctx, in.Query, in.Limit)
	if err != nil {
		return nil, err
	}
	return tools.JSONResult(map[string]any{"contacts": contacts})
}

// DealLookup fetches a CRM deal by id or finds deals by query.
type DealLookup struct {
	client *crm.Client
}

// NewDealLookup creates the deal_lookup tool.
func NewDealLookup(client *crm.Client) *DealLookup {
	return &DealLookup{client: client}
}

func (t *DealLookup) Name() string        { return "deal_lookup" }
func (t *DealLookup) Version() string     { return "1.0.0" }
func (t *DealLookup) Description() string {
	return "Fetch a CRM deal by id, or search deals when only a query is given."
}

func (t *DealLookup) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"deal_id": {"type": "string", "minLength": 1},
			"query": {"type": "string", "minLength": 1},
			"limit": {"type": "integer", "minimum": 1, "maximum": 20}
		},
		"anyOf": [
			{"required": ["deal_id"]},
			{"required": ["query"]}
		],
		"additionalProperties": false
	}`)
}

func (t *DealLookup) Capabilities() []tools.Capability {
	return []tools.Capability{tools.CapRead, tools.CapNetwork}
}

func (t *DealLookup) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var in struct {
		DealID string `json:"deal_id"`
		Query  string `json:"query"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, err
	}
	if in.DealID != "" {
		deal, err := t.client.GetDeal(ctx, in.DealID)
		if err != nil {
			return nil, err
		}
		return tools.JSONResult(map[string]any{"deal": deal})
	}
	deals, err := t.client.SearchDeals(ctx, in.Query, in.Limit)
	if err != nil {
		return nil, err
	}
	return tools.JSONResult(map[string]any{"deals": deals})
}
