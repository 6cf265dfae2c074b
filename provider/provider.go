package provider

import "context"

// Provider is the contract any inference backend implements: naming
// itself, reporting which models it can serve, and streaming a
// conversation's completion.
type Provider interface {
	GetName() string
	GetModelConfig() ModelConfig
	FetchSupportedModels(ctx context.Context) ([]string, error)
	Stream(ctx context.Context, cfg ModelConfig, sessionID string, system string, messages []Message, tools []ToolDefinition) (<-chan StreamItem, error)
}

var _ Provider = (*LocalProvider)(nil)
