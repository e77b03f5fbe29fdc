// ABOUTME: Registry of named tools and URI-addressed resources served over MCP.
// ABOUTME: Populated once at startup, then sealed and read without locking.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrDuplicateTool indicates a tool with the same name is already registered.
var ErrDuplicateTool = errors.New("tool already registered")

// ErrDuplicateResource indicates a resource with the same URI is already registered.
var ErrDuplicateResource = errors.New("resource already registered")

// ErrRegistrySealed indicates registration was attempted after the dispatcher was built.
var ErrRegistrySealed = errors.New("registry is sealed")

// ToolHandler executes a tool. args is the JSON arguments object, never empty.
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// ResourceHandler produces the content of the resource at uri.
type ResourceHandler func(ctx context.Context, uri string) (*ResourceContent, error)

// Tool is a named operation callable over MCP.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     ToolHandler
}

// Resource is addressable content identified by a URI.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	NoCache     bool // content changes between reads
	Handler     ResourceHandler
}

// ResourceContent is the body of a resource. Exactly one of Text and Blob is used.
type ResourceContent struct {
	MimeType string
	Text     string
	Blob     []byte
}

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Registry holds tools and resources in two independent namespaces.
// Registration is serialized by mu; once sealed the maps are never written
// again, so lookups take no lock.
type Registry struct {
	mu            sync.Mutex
	sealed        atomic.Bool
	tools         map[string]*Tool
	toolOrder     []string
	resources     map[string]*Resource
	resourceOrder []string
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]*Tool),
		resources: make(map[string]*Resource),
	}
}

// RegisterTool adds a tool. Names must be unique among tools.
func (r *Registry) RegisterTool(t Tool) error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q: handler is required", t.Name)
	}
	if len(t.InputSchema) == 0 {
		t.InputSchema = emptyObjectSchema
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return ErrRegistrySealed
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
	}
	r.tools[t.Name] = &t
	r.toolOrder = append(r.toolOrder, t.Name)
	return nil
}

// RegisterResource adds a resource. URIs must be unique among resources.
func (r *Registry) RegisterResource(res Resource) error {
	if res.URI == "" {
		return errors.New("resource uri is required")
	}
	if res.Handler == nil {
		return fmt.Errorf("resource %q: handler is required", res.URI)
	}
	if res.Name == "" {
		res.Name = res.URI
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return ErrRegistrySealed
	}
	if _, exists := r.resources[res.URI]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateResource, res.URI)
	}
	r.resources[res.URI] = &res
	r.resourceOrder = append(r.resourceOrder, res.URI)
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed.Store(true)
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Tool looks up a tool by name.
func (r *Registry) Tool(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Resource looks up a resource by URI.
func (r *Registry) Resource(uri string) (*Resource, bool) {
	res, ok := r.resources[uri]
	return res, ok
}

// Tools returns all tools in registration order.
func (r *Registry) Tools() []*Tool {
	out := make([]*Tool, len(r.toolOrder))
	for i, name := range r.toolOrder {
		out[i] = r.tools[name]
	}
	return out
}

// Resources returns all resources in registration order.
func (r *Registry) Resources() []*Resource {
	out := make([]*Resource, len(r.resourceOrder))
	for i, uri := range r.resourceOrder {
		out[i] = r.resources[uri]
	}
	return out
}
