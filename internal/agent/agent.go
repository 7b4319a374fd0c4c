// Package agent defines the closed set of conversational agents and the
// per-turn state machine that drives them.
package agent

import (
	"sort"

	"github.com/haasonsaas/switchboard/internal/errs"
)

// Agent names. The set is closed at build time; tools by contrast are an
// open registry.
const (
	Analytical      = "analytical"
	Creative        = "creative"
	Technical       = "technical"
	CustomerSupport = "customer-support"
	CRM             = "crm"
)

// Agent is one variant: a persona, an allowed tool subset, and optional
// workflow stages.
type Agent struct {
	// Name identifies the agent in routing decisions and metadata.
	Name string

	// SystemPrompt is the persona prepended to the assembled system prompt.
	SystemPrompt string

	// AllowedTools is the tool subset this agent may invoke. A call outside
	// the subset is rejected without executing.
	AllowedTools []string

	// Model overrides the provider default when set.
	Model string

	// MaxTokens caps response length; 0 uses the provider default.
	MaxTokens int

	// Workflow, when set, replaces plain generation with staged processing.
	Workflow *WorkflowConfig
}

// AllowsTool reports whether name is in the agent's declared subset.
func (a *Agent) AllowsTool(name string) bool {
	for _, t := range a.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

// Catalog is the closed agent set.
type Catalog struct {
	agents map[string]*Agent
}

// NewCatalog builds the default agent set. The workflow config applies to
// the customer-support agency.
func NewCatalog(workflow WorkflowConfig) *Catalog {
	wf := workflow.withDefaults()
	agents := []*Agent{
		{
			Name: Analytical,
			SystemPrompt: "You are an analytical assistant. Break problems down, reason step " +
				"by step, and show the data behind your conclusions. Prefer precise numbers " +
				"over vague statements.",
			AllowedTools: []string{"calculator", "current_datetime", "memory_search"},
		},
		{
			Name: Creative,
			SystemPrompt: "You are a creative writing assistant. Produce vivid, original prose " +
				"and ideas. Offer variations when the user is exploring.",
			AllowedTools: []string{"current_datetime"},
		},
		{
			Name: Technical,
			SystemPrompt: "You are a technical assistant for software engineers. Be precise, " +
				"cite exact commands and APIs, and flag version-specific behavior. Say so " +
				"plainly when something is unknown.",
			AllowedTools: []string{"calculator", "current_datetime", "memory_search"},
		},
		{
			Name: CustomerSupport,
			SystemPrompt: "You are a customer support specialist. Be empathetic and concrete. " +
				"Confirm the customer's issue before proposing a resolution, and never promise " +
				"outcomes you cannot verify.",
			AllowedTools: []string{"current_datetime", "memory_search"},
			Workflow:     &wf,
		},
		{
			Name: CRM,
			SystemPrompt: "You are a CRM assistant. Look up contacts and deals before answering " +
				"questions about them; never invent customer records.",
			AllowedTools: []string{"contact_search", "deal_lookup", "memory_search"},
		},
	}

	c := &Catalog{agents: make(map[string]*Agent, len(agents))}
	for _, a := range agents {
		c.agents[a.Name] = a
	}
	return c
}

// Get returns the named agent.
func (c *Catalog) Get(name string) (*Agent, error) {
	a, ok := c.agents[name]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "unknown agent: "+name)
	}
	return a, nil
}

// Names returns the agent names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.agents))
	for name := range c.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
