package routing

import (
	"sort"
	"strings"
	"sync"
)

// SlashCommand maps a command name to an agent.
type SlashCommand struct {
	Name        string `json:"name"`
	Agent       string `json:"agent"`
	Description string `json:"description"`
}

// SlashRegistry holds the registered slash commands.
//
// Thread Safety:
// SlashRegistry is safe for concurrent use.
type SlashRegistry struct {
	mu       sync.RWMutex
	commands map[string]SlashCommand
}

// NewSlashRegistry creates a registry with the default command set.
func NewSlashRegistry() *SlashRegistry {
	r := &SlashRegistry{commands: make(map[string]SlashCommand)}
	for _, cmd := range []SlashCommand{
		{Name: "analyze", Agent: "analytical", Description: "Route to the analytical agent"},
		{Name: "create", Agent: "creative", Description: "Route to the creative agent"},
		{Name: "tech", Agent: "technical", Description: "Route to the technical agent"},
		{Name: "support", Agent: "customer-support", Description: "Route to customer support"},
		{Name: "crm", Agent: "crm", Description: "Route to the CRM agent"},
	} {
		r.Register(cmd)
	}
	return r
}

// Register adds or replaces a command.
func (r *SlashRegistry) Register(cmd SlashCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(cmd.Name)] = cmd
}

// Lookup resolves a command name.
func (r *SlashRegistry) Lookup(name string) (SlashCommand, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// List returns all commands sorted by name, for the discovery endpoint.
func (r *SlashRegistry) List() []SlashCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SlashCommand, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ParseSlash splits a leading slash command off the user text. An unknown
// command is left in the text untouched; only registered commands route.
func ParseSlash(text string) (command, rest string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", text, false
	}
	body := trimmed[1:]
	if body == "" {
		return "", text, false
	}
	cut := strings.IndexAny(body, " \t\n")
	if cut < 0 {
		return strings.ToLower(body), "", true
	}
	return strings.ToLower(body[:cut]), strings.TrimSpace(body[cut:]), true
}
