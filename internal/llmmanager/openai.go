package llmmanager

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/reviewforge/engine/internal/apperr"
)

// OpenAITemplate is the OpenAI-compatible provider skeleton (spec §4.3,
// §9 "deep inheritance over provider template" redesign): a single
// concrete type composed from three function-pointer hooks instead of a
// class hierarchy, so new OpenAI-compatible providers (Groq, DeepSeek,
// local vLLM endpoints) become data + three funcs rather than a subclass.
type OpenAITemplate struct {
	name         string
	defaultModel string
	model        llms.Model
	available    bool

	prepareMessages func(req *CompletionRequest) []llms.MessageContent
	makeCall        func(ctx context.Context, model llms.Model, msgs []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error)
	extractResponse func(resp *llms.ContentResponse, model string) (*CompletionResponse, error)
}

// NewOpenAITemplate constructs a template around a langchaingo OpenAI
// client. name distinguishes OpenAI-compatible providers registered under
// different names (e.g. "openai", "groq", "deepseek").
func NewOpenAITemplate(name, defaultModel, apiKey, baseURL string) (*OpenAITemplate, error) {
	opts := []openai.Option{openai.WithToken(apiKey)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	if defaultModel != "" {
		opts = append(opts, openai.WithModel(defaultModel))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: construct openai client: %w", apperr.ErrProviderUnavailable, err)
	}
	t := &OpenAITemplate{
		name:         name,
		defaultModel: defaultModel,
		model:        client,
		available:    apiKey != "",
	}
	t.prepareMessages = defaultPrepareMessages
	t.makeCall = func(ctx context.Context, model llms.Model, msgs []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
		return model.GenerateContent(ctx, msgs, opts...)
	}
	t.extractResponse = defaultExtractResponse
	return t, nil
}

func (t *OpenAITemplate) Name() string         { return t.name }
func (t *OpenAITemplate) IsAvailable() bool    { return t.available }
func (t *OpenAITemplate) DefaultModel() string { return t.defaultModel }

func (t *OpenAITemplate) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	msgs := t.prepareMessages(req)
	opts := []llms.CallOption{}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	resp, err := t.makeCall(ctx, t.model, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrProviderUnavailable, err)
	}
	model := req.Model
	if model == "" {
		model = t.defaultModel
	}
	return t.extractResponse(resp, model)
}

func defaultPrepareMessages(req *CompletionRequest) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range nonEmptyMessages(req.Messages) {
		msgs = append(msgs, llms.TextParts(roleType(m.Role), m.Content))
	}
	return msgs
}

func roleType(r MessageRole) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	case RoleTool:
		return llms.ChatMessageTypeTool
	default:
		return llms.ChatMessageTypeHuman
	}
}

func defaultExtractResponse(resp *llms.ContentResponse, model string) (*CompletionResponse, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty provider response", apperr.ErrProviderRejected)
	}
	choice := resp.Choices[0]
	out := &CompletionResponse{
		Content:      choice.Content,
		Model:        model,
		FinishReason: choice.StopReason,
	}
	if choice.GenerationInfo != nil {
		usage := &Usage{}
		if v, ok := choice.GenerationInfo["PromptTokens"].(int); ok {
			usage.PromptTokens = v
		}
		if v, ok := choice.GenerationInfo["CompletionTokens"].(int); ok {
			usage.CompletionTokens = v
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		out.Usage = usage
	}
	return out, nil
}
