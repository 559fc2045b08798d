// Package registry implements an in-memory tool registry: manifest lookup
// plus JSON Schema validation of tool inputs and outputs.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ashita-ai/torii/internal/model"
)

type entry struct {
	manifest model.ToolManifest
	input    *gojsonschema.Schema // nil = accept anything
	output   *gojsonschema.Schema
}

// Registry stores immutable tool manifests keyed by name.
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds a manifest. Manifests are immutable once registered;
// re-registering a name is rejected.
func (r *Registry) Register(m model.ToolManifest) error {
	if m.Name == "" {
		return fmt.Errorf("registry: manifest name is required")
	}

	input, err := compile(m.InputSchema)
	if err != nil {
		return fmt.Errorf("registry: %s: input schema: %w", m.Name, err)
	}
	output, err := compile(m.OutputSchema)
	if err != nil {
		return fmt.Errorf("registry: %s: output schema: %w", m.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[m.Name]; exists {
		return fmt.Errorf("registry: tool %q already registered", m.Name)
	}
	r.tools[m.Name] = &entry{manifest: m, input: input, output: output}
	return nil
}

// Lookup returns the manifest for a tool name.
func (r *Registry) Lookup(name string) (model.ToolManifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return model.ToolManifest{}, false
	}
	return e.manifest, true
}

// List returns all registered manifests.
func (r *Registry) List() []model.ToolManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ToolManifest, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.manifest)
	}
	return out
}

// ValidateInput checks a value against the tool's input schema.
func (r *Registry) ValidateInput(name string, v any) error {
	return r.validate(name, v, true)
}

// ValidateOutput checks a value against the tool's output schema.
func (r *Registry) ValidateOutput(name string, v any) error {
	return r.validate(name, v, false)
}

func (r *Registry) validate(name string, v any, input bool) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("registry: unknown tool %q", name)
	}

	schema := e.output
	which := "output"
	if input {
		schema = e.input
		which = "input"
	}
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(v))
	if err != nil {
		return fmt.Errorf("registry: %s: validate %s: %w", name, which, err)
	}
	if !result.Valid() {
		descs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			descs = append(descs, re.String())
		}
		return fmt.Errorf("registry: %s: %s does not match schema: %s", name, which, strings.Join(descs, "; "))
	}
	return nil
}

func compile(schema map[string]any) (*gojsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
}
