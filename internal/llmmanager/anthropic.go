package llmmanager

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"

	"github.com/reviewforge/engine/internal/apperr"
)

// AnthropicProvider is the Anthropic-shaped provider (spec §4.3): it pulls
// any leading "system"-role message out of the request and passes it as a
// distinct system prompt, since Anthropic's wire format has no system role
// inline in the turn list.
type AnthropicProvider struct {
	defaultModel string
	model        llms.Model
	available    bool
}

func NewAnthropicProvider(defaultModel, apiKey, baseURL string) (*AnthropicProvider, error) {
	opts := []anthropic.Option{anthropic.WithToken(apiKey)}
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	if defaultModel != "" {
		opts = append(opts, anthropic.WithModel(defaultModel))
	}
	client, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: construct anthropic client: %w", apperr.ErrProviderUnavailable, err)
	}
	return &AnthropicProvider{defaultModel: defaultModel, model: client, available: apiKey != ""}, nil
}

func (a *AnthropicProvider) Name() string         { return "anthropic" }
func (a *AnthropicProvider) IsAvailable() bool    { return a.available }
func (a *AnthropicProvider) DefaultModel() string { return a.defaultModel }

func (a *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	system, rest := extractSystemPrompt(nonEmptyMessages(req.Messages))
	msgs := make([]llms.MessageContent, 0, len(rest)+1)
	if system != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, m := range rest {
		msgs = append(msgs, llms.TextParts(roleType(m.Role), m.Content))
	}
	opts := []llms.CallOption{}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	resp, err := a.model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrProviderUnavailable, err)
	}
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	out, err := defaultExtractResponse(resp, model)
	if err != nil {
		return nil, err
	}
	out.Provider = "anthropic"
	return out, nil
}

// extractSystemPrompt pulls a single leading system message out of msgs,
// concatenating multiple leading system messages if present.
func extractSystemPrompt(msgs []Message) (string, []Message) {
	var system []string
	i := 0
	for i < len(msgs) && msgs[i].Role == RoleSystem {
		system = append(system, msgs[i].Content)
		i++
	}
	return strings.Join(system, "\n"), msgs[i:]
}
