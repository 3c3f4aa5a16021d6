package engine

import (
	"context"
	"fmt"

	"github.com/reviewforge/engine/internal/llmmanager"
	"github.com/reviewforge/engine/internal/model"
)

// LLMCompleter is the narrow surface of llmmanager.Manager a handler
// needs, kept as an interface so tests can substitute a stub.
type LLMCompleter interface {
	Complete(ctx context.Context, req *llmmanager.CompletionRequest) (*llmmanager.CompletionResponse, error)
}

// LLMReviewHandler runs a code-review completion through the LLM Manager
// (spec §4.8): it reads a system/user prompt pair from the action's
// config and writes the provider's response back into the accumulated
// execution context under the action's name.
type LLMReviewHandler struct {
	manager LLMCompleter
}

func NewLLMReviewHandler(manager LLMCompleter) *LLMReviewHandler {
	return &LLMReviewHandler{manager: manager}
}

func (h *LLMReviewHandler) Handle(ctx context.Context, action *model.WorkflowAction, actionCtx ActionContext) (map[string]any, error) {
	systemPrompt, _ := action.Config["system_prompt"].(string)
	userPrompt, _ := action.Config["prompt"].(string)
	if userPrompt == "" {
		if diff, ok := actionCtx["diff"].(string); ok {
			userPrompt = diff
		}
	}
	provider, _ := action.Config["provider"].(string)
	modelName, _ := action.Config["model"].(string)

	req := &llmmanager.CompletionRequest{
		Provider: provider,
		Model:    modelName,
		Messages: []llmmanager.Message{
			{Role: llmmanager.RoleSystem, Content: systemPrompt},
			{Role: llmmanager.RoleUser, Content: userPrompt},
		},
	}
	resp, err := h.manager.Complete(ctx, req)
	if err != nil {
		return nil, Retriable(err)
	}
	return map[string]any{
		"content":       resp.Content,
		"model":         resp.Model,
		"provider":      resp.Provider,
		"finish_reason": resp.FinishReason,
	}, nil
}

// CommentHandler posts a review comment via an outbound integration
// client. The client is a narrow collaborator interface so tests don't
// need a live HTTP integration.
type CommentPoster interface {
	PostComment(ctx context.Context, integrationID, resourceID, body string) error
}

// PostCommentHandler publishes the accumulated review content as a pull
// request comment (the terminal step of most code-review workflows).
type PostCommentHandler struct {
	poster CommentPoster
}

func NewPostCommentHandler(poster CommentPoster) *PostCommentHandler {
	return &PostCommentHandler{poster: poster}
}

func (h *PostCommentHandler) Handle(ctx context.Context, action *model.WorkflowAction, actionCtx ActionContext) (map[string]any, error) {
	integrationID, _ := action.Config["integration_id"].(string)
	resourceID, _ := action.Config["resource_id"].(string)
	body, _ := actionCtx["content"].(string)
	if body == "" {
		if v, ok := action.Config["body"].(string); ok {
			body = v
		}
	}
	if err := h.poster.PostComment(ctx, integrationID, resourceID, body); err != nil {
		return nil, Retriable(fmt.Errorf("post comment: %w", err))
	}
	return map[string]any{"posted": true}, nil
}
