// Package mcp defines the Model Context Protocol vocabulary layered on top
// of the bare JSON-RPC envelope: tools, prompts, resources, sampling
// requests, content blocks, and the capability structures exchanged during
// initialize.
//
// Grounded on the teacher's internal/domain/mcp.go, which defines this
// vocabulary for tools only; this package generalizes it to the full set of
// primitives (prompts, resources, sampling, logging) the spec's capability
// negotiator (C6) and handler registry (C7) require.
package mcp

// ProtocolVersion is the MCP protocol revision this runtime speaks,
// reusing the teacher's initialize response value.
const ProtocolVersion = "2024-11-05"

// JSONSchema is a minimal JSON Schema object, identical in shape to the
// teacher's domain.JSONSchema.
type JSONSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
}

// ToolDefinition describes a callable tool, as advertised by tools/list.
type ToolDefinition struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	InputSchema JSONSchema `json:"inputSchema"`
}

// ToolRequest is the arguments payload of a tools/call invocation.
type ToolRequest struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ContentBlock is one piece of content returned from a tool call, prompt
// render, or resource read: either inline text or an embedded resource.
type ContentBlock struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	Resource *Resource `json:"resource,omitempty"`
}

// Resource identifies and optionally embeds a resource's content.
type Resource struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ToolResponse is returned from a tools/call handler invocation.
type ToolResponse struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// PromptDefinition describes a reusable prompt template, advertised by
// prompts/list.
type PromptDefinition struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one named argument a prompt template accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptRequest is the arguments payload of a prompts/get invocation.
type PromptRequest struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// PromptMessage is one turn of a rendered prompt.
type PromptMessage struct {
	Role    string       `json:"role"`
	Content ContentBlock `json:"content"`
}

// PromptResponse is returned from a prompts/get handler invocation.
type PromptResponse struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// ResourceDefinition describes a readable resource, advertised by
// resources/list.
type ResourceDefinition struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceRequest is the arguments payload of a resources/read invocation.
type ResourceRequest struct {
	URI string `json:"uri"`
}

// ResourceResponse is returned from a resources/read handler invocation.
type ResourceResponse struct {
	Contents []Resource `json:"contents"`
}

// SamplingRequest is a server-to-client request asking the client's model
// to generate a completion (the "sampling" MCP primitive).
type SamplingRequest struct {
	Messages    []PromptMessage `json:"messages"`
	MaxTokens   int             `json:"maxTokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

// SamplingResponse is the client's answer to a SamplingRequest.
type SamplingResponse struct {
	Role    string       `json:"role"`
	Content ContentBlock `json:"content"`
	Model   string       `json:"model,omitempty"`
}

// LoggingSetLevelRequest adjusts the minimum log level the server should
// emit logging/message notifications at.
type LoggingSetLevelRequest struct {
	Level string `json:"level"`
}

// Capabilities describes which MCP primitives a party supports, exchanged
// during initialize. Each *struct{} field being non-nil means "supported";
// this mirrors the teacher's empty capability objects in handleInitialize.
type Capabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Sampling  *SamplingCapability  `json:"sampling,omitempty"`
	Logging   *LoggingCapability   `json:"logging,omitempty"`
	Roots     *RootsCapability     `json:"roots,omitempty"`
	Progress  *ProgressCapability  `json:"progress,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

type SamplingCapability struct{}

type LoggingCapability struct{}

type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ProgressCapability struct{}

// ServerInfo identifies the server implementation, echoed in initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the client's initialize request payload.
type InitializeParams struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ClientInfo      ServerInfo   `json:"clientInfo"`
}

// InitializeResult is the server's initialize response payload.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}
