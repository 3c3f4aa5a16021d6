package llmmanager

import "context"

// Client is the minimal surface a registered provider must implement to
// serve completions. Concrete implementations (openai template,
// anthropic-shaped provider) compose langchaingo's llms.Model underneath;
// Client itself stays free of langchaingo types so the Manager never needs
// to import them.
type Client interface {
	Name() string
	IsAvailable() bool
	DefaultModel() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}
