// Package pool manages a namespace-aware pool of MCP tool-provider
// subprocesses: spawning, handshaking, health tracking, recovery, and
// shutdown, plus the tool discovery/invocation surface built on top.
package pool

import (
	"encoding/json"
)

// ToolDescriptor represents an MCP tool exposed by a server.
// Maps to the MCP protocol's Tool schema. Descriptors are produced by
// discovery and never owned by the pool; callers cache them if needed.
type ToolDescriptor struct {
	// Name is the unique identifier for this tool
	Name string `json:"name"`

	// Description explains what the tool does
	Description string `json:"description"`

	// InputSchema defines the expected input parameters using JSON Schema
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolResult represents the result of an MCP tool execution.
type ToolResult struct {
	// Content contains the tool's output
	Content []ContentItem `json:"content"`

	// IsError indicates if the tool execution failed
	IsError bool `json:"isError,omitempty"`
}

// ContentItem represents a piece of content in an MCP response.
type ContentItem struct {
	// Type is the content type (text, image, resource)
	Type string `json:"type"`

	// Text is the text content (for type="text")
	Text string `json:"text,omitempty"`

	// Data is the base64-encoded data (for type="image")
	Data string `json:"data,omitempty"`

	// MimeType is the MIME type for binary content
	MimeType string `json:"mimeType,omitempty"`
}

// ResourceDescriptor represents an MCP resource exposed by a server.
type ResourceDescriptor struct {
	// URI is the unique identifier for this resource
	URI string `json:"uri"`

	// Name is a human-readable name
	Name string `json:"name"`

	// Description explains what this resource contains
	Description string `json:"description,omitempty"`

	// MimeType indicates the content type
	MimeType string `json:"mimeType,omitempty"`
}

// ResourceContent represents the content of an MCP resource.
type ResourceContent struct {
	// URI is the resource identifier
	URI string `json:"uri"`

	// MimeType indicates the content type
	MimeType string `json:"mimeType,omitempty"`

	// Text is the text content (for text resources)
	Text string `json:"text,omitempty"`

	// Blob is the base64-encoded binary content (for binary resources)
	Blob string `json:"blob,omitempty"`
}

// ServerCapabilities describes what features an MCP server supports,
// as reported during the initialize handshake.
type ServerCapabilities struct {
	// Tools indicates if the server provides tools
	Tools *ToolsCapability `json:"tools,omitempty"`

	// Resources indicates if the server provides resources
	Resources *ResourcesCapability `json:"resources,omitempty"`
}

// ToolsCapability describes tool-related capabilities.
type ToolsCapability struct {
	// ListChanged indicates if the server sends notifications when tools change
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability describes resource-related capabilities.
type ResourcesCapability struct {
	// Subscribe indicates if clients can subscribe to resource updates
	Subscribe bool `json:"subscribe,omitempty"`

	// ListChanged indicates if the server sends notifications when resources change
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerInfo identifies a server implementation during the handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is the server's reply to the initialize request.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

// Stats is a read-only snapshot of one namespace.
type Stats struct {
	// Registered lists all configured server names, sorted.
	Registered []string `json:"registered"`

	// Active lists server names with a live connection, sorted.
	Active []string `json:"active"`

	// Health maps active server names to their connection state.
	Health map[string]ConnState `json:"health"`

	// Generations maps active server names to their process generation.
	Generations map[string]uint64 `json:"generations"`
}
