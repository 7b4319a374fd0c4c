package models

// OverrideSource records which rule produced a router decision.
type OverrideSource string

const (
	OverrideSlash    OverrideSource = "slash"
	OverrideLock     OverrideSource = "lock"
	OverrideRouter   OverrideSource = "router"
	OverrideFallback OverrideSource = "fallback"
)

// RouterDecision is the outcome of agent selection for a turn. It is not
// persisted as its own row; the pipeline stores it in the assistant message
// metadata under MetaRouterDecision.
type RouterDecision struct {
	Agent          string         `json:"agent"`
	Confidence     float64        `json:"confidence"`
	Reason         string         `json:"reason"`
	OverrideSource OverrideSource `json:"override_source"`
}

// AsMetadata renders the decision for the assistant message metadata bag.
func (d RouterDecision) AsMetadata() map[string]any {
	return map[string]any{
		"agent":           d.Agent,
		"confidence":      d.Confidence,
		"reason":          d.Reason,
		"override_source": string(d.OverrideSource),
	}
}
