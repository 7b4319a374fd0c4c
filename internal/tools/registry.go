package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/switchboard/internal/errs"
)

// Parameter limits guard against runaway inputs.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize caps tool parameter JSON at 1MB.
	MaxToolParamsSize = 1 << 20
)

// Registry holds the available tools and their compiled input schemas.
// Registration compiles the schema once; calls validate against the cached
// compilation before any execution happens.
//
// Thread Safety:
// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	compiled map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, compiling its input schema. A tool with the same
// name is replaced.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("tools: invalid tool name %q", name)
	}
	schema, err := compileSchema(name, tool.Schema())
	if err != nil {
		return fmt.Errorf("tools: schema for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	r.compiled[name] = schema
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.compiled, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Signatures renders all registered tools for prompts and discovery,
// sorted by name for stable output.
func (r *Registry) Signatures() []Signature {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sigs := make([]Signature, 0, len(r.tools))
	for _, tool := range r.tools {
		sigs = append(sigs, Signature{
			Name:         tool.Name(),
			Version:      tool.Version(),
			Description:  tool.Description(),
			Schema:       tool.Schema(),
			Capabilities: tool.Capabilities(),
		})
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Name < sigs[j].Name })
	return sigs
}

// Validate checks params against the tool's input schema. Unknown tools and
// schema violations are validation-kind errors; the caller must not execute.
func (r *Registry) Validate(name string, params json.RawMessage) error {
	if len(params) > MaxToolParamsSize {
		return errs.New(errs.KindValidation, fmt.Sprintf("tool parameters exceed %d bytes", MaxToolParamsSize))
	}

	r.mu.RLock()
	schema, ok := r.compiled[name]
	r.mu.RUnlock()
	if !ok {
		return errs.New(errs.KindValidation, "unknown tool: "+name)
	}

	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return errs.Wrap(errs.KindValidation, "tool parameters are not valid JSON", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return errs.Wrap(errs.KindValidation, "tool parameters rejected by schema", err)
	}
	return nil
}

// Execute validates and runs a tool call. Validation failures never reach
// the tool.
func (r *Registry) Execute(ctx context.Context, call Call) (*Result, error) {
	if err := r.Validate(call.Name, call.Input); err != nil {
		return nil, err
	}
	tool, ok := r.Get(call.Name)
	if !ok {
		return nil, errs.New(errs.KindValidation, "unknown tool: "+call.Name)
	}
	result, err := tool.Execute(ctx, call.Input)
	if err != nil {
		return nil, errs.Wrap(errs.KindTool, call.Name, err)
	}
	return result, nil
}

var schemaCache sync.Map

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString(name+".schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
