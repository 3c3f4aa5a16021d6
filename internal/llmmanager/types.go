// Package llmmanager implements the LLM Manager of spec.md §4.3: a
// fallback-aware dispatcher over the Provider Registry that normalizes
// completion requests/responses across an OpenAI-compatible template and
// an Anthropic-shaped provider with a leading system message.
package llmmanager

// MessageRole is the closed set of message roles (spec §9 "Duck-typed
// message handling" redesign flag).
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is one turn of a completion request.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Usage normalizes token accounting across providers.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionRequest is the Manager's public input.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// CompletionResponse is the Manager's normalized output.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason"`
	Usage        *Usage `json:"usage,omitempty"`
	Provider     string `json:"provider"`
	Error        error  `json:"-"`
}

// nonEmptyMessages filters out messages with empty content, per spec §4.3
// step 3 ("non-empty after filtering empty-content entries").
func nonEmptyMessages(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Content != "" {
			out = append(out, m)
		}
	}
	return out
}
