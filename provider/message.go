// Package provider exposes the shared contract any inference backend
// (local or remote) implements, and LocalProvider, the implementation
// that drives the local inference core: runtime, registry, context
// sizing, and the native/emulator tool-calling paths.
package provider

import "time"

// Role is who produced a Message.
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
)

// ContentPartKind selects which of a ContentPart's fields are meaningful;
// the field comments below name the kinds each one belongs to.
type ContentPartKind int

const (
	PartText ContentPartKind = iota
	PartToolRequest
	PartToolResponse
	PartThinking
	PartImage
)

// ContentPart carries one unit of message content.
type ContentPart struct {
	Kind ContentPartKind

	Text string // PartText, PartThinking

	ToolCallID string         // PartToolRequest, PartToolResponse
	ToolName   string         // PartToolRequest
	ToolArgs   map[string]any // PartToolRequest

	ToolOutput string // PartToolResponse
	ToolError  string // PartToolResponse, empty when the call succeeded

	ImageData     []byte // PartImage
	ImageMIMEType string // PartImage
}

// Message is one turn of a conversation.
type Message struct {
	ID        string
	Role      Role
	Content   []ContentPart
	Timestamp time.Time
}

// ToolDefinition is a tool's full schema, as the provider boundary
// receives it.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Usage is the token accounting for one completed generation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// StreamItem is one unit pushed onto a generation's output channel: a
// partial or final assistant message, a terminal usage record, or an
// error that ends the stream.
type StreamItem struct {
	Message *Message
	Usage   *Usage
	Err     error
}

// ModelConfig names which registered model a Stream call should use. It
// carries no per-call settings overrides; settings come from the
// registry entry.
type ModelConfig struct {
	ModelID string
}
