// Package toolcall implements the parsers shared by both tool-calling
// paths: the safe-stream-end cutoff, and JSON/XML tool-call extraction
// from a finished generation.
package toolcall

import "github.com/google/uuid"

// ToolRequest is one extracted tool call, ready to become an assistant
// message content part.
type ToolRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
}

func freshID() string { return uuid.NewString() }
