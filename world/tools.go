package world

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolExecutor runs a tool with validated arguments in env.
type ToolExecutor func(ctx context.Context, arguments json.RawMessage, env *LocalEnvironment) (string, error)

// ToolDefinition describes a tool for the LLM.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// RegisteredTool pairs a tool definition with its executor and policy.
type RegisteredTool struct {
	Definition       ToolDefinition
	Executor         ToolExecutor
	RequiresApproval bool
	// WorkingDirectory reports the directory a call runs in. Nil means the
	// environment's working directory.
	WorkingDirectory func(args map[string]interface{}, env *LocalEnvironment) string

	schema *jsonschema.Schema
}

// ToolRegistry manages tool registration and lookup.
type ToolRegistry struct {
	tools map[string]*RegisteredTool
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*RegisteredTool),
	}
}

// Register adds or replaces a tool. The parameter schema is compiled here so
// a broken schema fails at startup rather than on first call.
func (r *ToolRegistry) Register(tool RegisteredTool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("register tool: name is required")
	}
	if tool.Executor == nil {
		return fmt.Errorf("register tool %s: executor is required", tool.Definition.Name)
	}
	if tool.Definition.Parameters != nil {
		raw, err := json.Marshal(tool.Definition.Parameters)
		if err != nil {
			return fmt.Errorf("register tool %s: %w", tool.Definition.Name, err)
		}
		schema, err := jsonschema.CompileString("mem://tools/"+tool.Definition.Name+".json", string(raw))
		if err != nil {
			return fmt.Errorf("register tool %s: compile schema: %w", tool.Definition.Name, err)
		}
		tool.schema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &tool
	return nil
}

// Unregister removes a tool from the registry.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool definitions sorted by name.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the sorted names of all registered tools.
func (r *ToolRegistry) Names() []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Validate parses arguments and checks them against the tool's schema.
func (t *RegisteredTool) Validate(arguments json.RawMessage) (map[string]interface{}, error) {
	args, err := ParseToolArguments(arguments)
	if err != nil {
		return nil, err
	}
	if t.schema != nil {
		if err := t.schema.Validate(args); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", t.Definition.Name, err)
		}
	}
	return args, nil
}

// ResolveWorkingDirectory returns the directory a call with args runs in.
func (t *RegisteredTool) ResolveWorkingDirectory(args map[string]interface{}, env *LocalEnvironment) string {
	if t.WorkingDirectory != nil {
		return t.WorkingDirectory(args, env)
	}
	return env.WorkingDirectory()
}

// ParseToolArguments unmarshals tool call arguments into a map. Empty
// arguments decode to an empty map.
func ParseToolArguments(raw json.RawMessage) (map[string]interface{}, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// GetStringArg extracts a string argument from parsed tool arguments.
func GetStringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetIntArg extracts an integer argument from parsed tool arguments.
func GetIntArg(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// GetStringSliceArg extracts a list of strings. Non-string items are
// rendered with fmt.
func GetStringSliceArg(args map[string]interface{}, key string) ([]string, bool) {
	v, ok := args[key]
	if !ok {
		return nil, false
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, fmt.Sprint(item))
		}
	}
	return out, true
}
