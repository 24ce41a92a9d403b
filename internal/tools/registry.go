package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry holds the named tools. Constructed at startup, immutable
// afterwards; Execute is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	schemas   map[string]*jsonschema.Schema
	approvals *Approvals
	prompter  Prompter
}

// NewRegistry builds an empty registry. prompter may be nil, in which
// case confirmation-required tools fail closed without a standing
// grant.
func NewRegistry(approvals *Approvals, prompter Prompter) *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		schemas:   make(map[string]*jsonschema.Schema),
		approvals: approvals,
		prompter:  prompter,
	}
}

// Register adds a tool, compiling its parameter schema once. Duplicate
// names are a programming error.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	compiled, err := compileSchema(name, t.Schema())
	if err != nil {
		return fmt.Errorf("tool %q schema: %w", name, err)
	}
	r.tools[name] = t
	r.schemas[name] = compiled
	return nil
}

// compileSchema turns a parameter map into a compiled JSON schema.
func compileSchema(name string, schema Schema) (*jsonschema.Schema, error) {
	properties := make(map[string]any, len(schema))
	var required []string
	for param, spec := range schema {
		prop := map[string]any{"type": spec.Type}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		if spec.Default != nil {
			prop["default"] = spec.Default
		}
		properties[param] = prop
		if spec.Required {
			required = append(required, param)
		}
	}
	sort.Strings(required)
	requiredJSON := make([]any, len(required))
	for i, r := range required {
		requiredJSON[i] = r
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = requiredJSON
	}
	compiler := jsonschema.NewCompiler()
	url := "zeke://tools/" + name + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns tool descriptors sorted by name.
type Descriptor struct {
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	Category             Category `json:"category"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
	Schema               Schema   `json:"schema"`
}

// List returns every registered tool's descriptor.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Descriptor{
			Name:                 t.Name(),
			Description:          t.Description(),
			Category:             t.Category(),
			RequiresConfirmation: t.RequiresConfirmation(),
			Schema:               t.Schema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute validates params against the tool's schema, enforces the
// confirmation policy, and invokes the tool. Validation failures abort
// before any side effect.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any, sessionID string) (*Result, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NewErrorf(ErrToolNotFound, "unknown tool: %s", name)
	}

	if params == nil {
		params = map[string]any{}
	}
	if err := schema.Validate(normalizeParams(params)); err != nil {
		return nil, NewErrorf(ErrInvalidParams, "invalid params for %s: %v", name, err)
	}

	if tool.RequiresConfirmation() && !r.approvals.Granted(name, sessionID) {
		if r.prompter == nil {
			return nil, NewErrorf(ErrPermissionDenied, "tool %s requires confirmation and no prompt is available", name)
		}
		scope, err := r.prompter.Confirm(name, describeCall(name, params))
		if err != nil {
			return nil, NewErrorf(ErrPermissionDenied, "confirmation failed: %v", err)
		}
		switch scope {
		case ScopeDeny:
			return nil, NewErrorf(ErrPermissionDenied, "user denied %s", name)
		case ScopeSession, ScopeProject:
			r.approvals.Record(name, scope, sessionID)
		}
	}

	return tool.Execute(ctx, params)
}

// normalizeParams coerces native Go values into JSON-shaped ones so the
// schema validator sees what json.Unmarshal would produce.
func normalizeParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		switch n := v.(type) {
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}

func describeCall(name string, params map[string]any) string {
	if path, ok := params["file_path"].(string); ok {
		return name + " " + path
	}
	if cmd, ok := params["command"].(string); ok {
		return name + ": " + cmd
	}
	return name
}
