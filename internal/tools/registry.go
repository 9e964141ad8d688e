// Package tools selects and runs the capability tools that back a reply.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/pkg/models"
)

// Tool is a named capability the executor can invoke.
type Tool interface {
	// Name must be unique within a registry.
	Name() string

	// Description is shown in help output and LLM prompts.
	Description() string

	// Keywords are parameter names and topics that make this tool relevant.
	Keywords() []string

	// Schema is the JSON Schema for the parameters passed to Execute.
	Schema() json.RawMessage

	// Execute runs the tool and returns its text payload.
	Execute(ctx context.Context, params models.Params) (string, error)
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds the available tools with their compiled schemas.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register compiles the tool's schema and adds it, replacing any tool with the
// same name.
func (r *Registry) Register(tool Tool) error {
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return fault.New(fault.KindConfiguration, "tool name is required")
	}

	var compiled *jsonschema.Schema
	if raw := tool.Schema(); len(raw) > 0 {
		var err error
		compiled, err = jsonschema.CompileString("tool_"+name+".json", string(raw))
		if err != nil {
			return fault.Wrap(fault.KindConfiguration, "tools.register", fmt.Errorf("compile schema for %s: %w", name, err))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = entry{tool: tool, schema: compiled}
	return nil
}

// Unregister removes a tool and reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	return true
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.tool, ok
}

// Names returns the registered tool names in sorted order.
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

// Tools returns the registered tools sorted by name.
func (r *Registry) Tools() []Tool {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		if e, ok := r.tools[name]; ok {
			out = append(out, e.tool)
		}
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Validate checks params against the named tool's schema.
func (r *Registry) Validate(name string, params models.Params) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fault.New(fault.KindToolError, "tool %s not found in registry", name)
	}
	if e.schema == nil {
		return nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, "tools.validate", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fault.Wrap(fault.KindInvalidInput, "tools.validate", err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return &fault.Error{
			Kind:    fault.KindInvalidInput,
			Op:      "tools.validate",
			Message: fmt.Sprintf("invalid parameters for %s", name),
			Cause:   err,
		}
	}
	return nil
}
