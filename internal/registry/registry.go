// Package registry holds the server's handler tables: tools, prompts,
// resources, sampling handlers and logging handlers, each keyed by name
// within its own primitive type.
//
// Grounded on the teacher's internal/application/router.go RequestRouter,
// which kept one map[string]domain.ToolHandler and dispatched on a
// "<handler>_<operation>" name prefix. That shape is generalized here from
// a single tool-only table into one typed table per MCP primitive, since
// SPEC_FULL.md's registry must hold prompts and resources and sampling and
// logging handlers too, not only tools.
package registry

import (
	"context"
	"fmt"
	"sync"

	"mcpcore/internal/mcp"
)

// Kind identifies which MCP primitive table an entry belongs to.
type Kind string

const (
	KindTool     Kind = "tool"
	KindPrompt   Kind = "prompt"
	KindResource Kind = "resource"
	KindSampling Kind = "sampling"
	KindLogging  Kind = "logging"
)

// MaxEntriesPerKind bounds each typed table, matching the teacher's
// practice of never letting an unbounded map grow from untrusted input.
const MaxEntriesPerKind = 1000

// ToolHandler serves one registered tool, mirroring the teacher's
// domain.ToolHandler.Handle single-tool-call contract.
type ToolHandler func(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error)

// PromptHandler serves one registered prompt.
type PromptHandler func(ctx context.Context, req *mcp.PromptRequest) (*mcp.PromptResponse, error)

// ResourceHandler serves one registered resource.
type ResourceHandler func(ctx context.Context, req *mcp.ResourceRequest) (*mcp.ResourceResponse, error)

// SamplingHandler serves one registered sampling target.
type SamplingHandler func(ctx context.Context, req *mcp.SamplingRequest) (*mcp.SamplingResponse, error)

// LoggingHandler serves one registered logging sink.
type LoggingHandler func(ctx context.Context, req *mcp.LoggingSetLevelRequest) error

// Registry holds the typed handler tables for every MCP primitive.
type Registry struct {
	mu sync.RWMutex

	tools       map[string]ToolHandler
	toolDefs    map[string]mcp.ToolDefinition
	prompts     map[string]PromptHandler
	promptDefs  map[string]mcp.PromptDefinition
	resources   map[string]ResourceHandler
	resourceDefs map[string]mcp.ResourceDefinition
	sampling    map[string]SamplingHandler
	logging     map[string]LoggingHandler
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		tools:        make(map[string]ToolHandler),
		toolDefs:     make(map[string]mcp.ToolDefinition),
		prompts:      make(map[string]PromptHandler),
		promptDefs:   make(map[string]mcp.PromptDefinition),
		resources:    make(map[string]ResourceHandler),
		resourceDefs: make(map[string]mcp.ResourceDefinition),
		sampling:     make(map[string]SamplingHandler),
		logging:      make(map[string]LoggingHandler),
	}
}

// metadataKey formats the "{type}:{name}" key used in registration error
// messages, so a caller seeing "tool:jira_get_issue" knows both which table
// and which name without cross-referencing two fields. The registry keeps
// no separate per-handler metadata records under this key.
func metadataKey(kind Kind, name string) string {
	return fmt.Sprintf("%s:%s", kind, name)
}

// RegisterTool adds a tool handler under name, failing if name is already
// registered or the tool table is at MaxEntriesPerKind.
func (r *Registry) RegisterTool(def mcp.ToolDefinition, h ToolHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("registry: %s already registered", metadataKey(KindTool, def.Name))
	}
	if len(r.tools) >= MaxEntriesPerKind {
		return fmt.Errorf("registry: tool table full (max %d)", MaxEntriesPerKind)
	}
	r.tools[def.Name] = h
	r.toolDefs[def.Name] = def
	return nil
}

// Tool looks up a registered tool handler by name.
func (r *Registry) Tool(name string) (ToolHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.tools[name]
	return h, ok
}

// ListTools returns all registered tool definitions.
func (r *Registry) ListTools() []mcp.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]mcp.ToolDefinition, 0, len(r.toolDefs))
	for _, d := range r.toolDefs {
		defs = append(defs, d)
	}
	return defs
}

// RegisterPrompt adds a prompt handler under def.Name.
func (r *Registry) RegisterPrompt(def mcp.PromptDefinition, h PromptHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.prompts[def.Name]; exists {
		return fmt.Errorf("registry: %s already registered", metadataKey(KindPrompt, def.Name))
	}
	if len(r.prompts) >= MaxEntriesPerKind {
		return fmt.Errorf("registry: prompt table full (max %d)", MaxEntriesPerKind)
	}
	r.prompts[def.Name] = h
	r.promptDefs[def.Name] = def
	return nil
}

// Prompt looks up a registered prompt handler by name.
func (r *Registry) Prompt(name string) (PromptHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.prompts[name]
	return h, ok
}

// ListPrompts returns all registered prompt definitions.
func (r *Registry) ListPrompts() []mcp.PromptDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]mcp.PromptDefinition, 0, len(r.promptDefs))
	for _, d := range r.promptDefs {
		defs = append(defs, d)
	}
	return defs
}

// RegisterResource adds a resource handler under def.URI.
func (r *Registry) RegisterResource(def mcp.ResourceDefinition, h ResourceHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[def.URI]; exists {
		return fmt.Errorf("registry: %s already registered", metadataKey(KindResource, def.URI))
	}
	if len(r.resources) >= MaxEntriesPerKind {
		return fmt.Errorf("registry: resource table full (max %d)", MaxEntriesPerKind)
	}
	r.resources[def.URI] = h
	r.resourceDefs[def.URI] = def
	return nil
}

// Resource looks up a registered resource handler by URI.
func (r *Registry) Resource(uri string) (ResourceHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.resources[uri]
	return h, ok
}

// ListResources returns all registered resource definitions.
func (r *Registry) ListResources() []mcp.ResourceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]mcp.ResourceDefinition, 0, len(r.resourceDefs))
	for _, d := range r.resourceDefs {
		defs = append(defs, d)
	}
	return defs
}

// RegisterSampling adds a sampling handler under name.
func (r *Registry) RegisterSampling(name string, h SamplingHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sampling[name]; exists {
		return fmt.Errorf("registry: %s already registered", metadataKey(KindSampling, name))
	}
	if len(r.sampling) >= MaxEntriesPerKind {
		return fmt.Errorf("registry: sampling table full (max %d)", MaxEntriesPerKind)
	}
	r.sampling[name] = h
	return nil
}

// Sampling looks up a registered sampling handler by name.
func (r *Registry) Sampling(name string) (SamplingHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sampling[name]
	return h, ok
}

// RegisterLogging adds a logging handler under name.
func (r *Registry) RegisterLogging(name string, h LoggingHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.logging[name]; exists {
		return fmt.Errorf("registry: %s already registered", metadataKey(KindLogging, name))
	}
	if len(r.logging) >= MaxEntriesPerKind {
		return fmt.Errorf("registry: logging table full (max %d)", MaxEntriesPerKind)
	}
	r.logging[name] = h
	return nil
}

// Logging looks up a registered logging handler by name.
func (r *Registry) Logging(name string) (LoggingHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.logging[name]
	return h, ok
}
