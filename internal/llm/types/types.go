package types

import "context"

// Message is one entry in a conversation transcript.
//
// The transcript is replayed verbatim to the completion service on every
// iteration, so ordering and field presence matter: Content is always
// present (empty string when the assistant emitted no text, never absent),
// ToolCalls only appears on assistant messages that requested tools, and
// ToolCallID only appears on tool-role messages carrying a result.
type Message struct {
	Role       string     `json:"role"`                   // system, user, assistant, tool
	Content    string     `json:"content"`                // message text, "" if none
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant-requested invocations
	ToolCallID string     `json:"tool_call_id,omitempty"` // correlates a tool result to its call
}

// Tool represents a tool/function definition that can be called by the LLM.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON schema for parameters
}

// ToolCall represents a tool call made by the LLM.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// CompletionResponse is one turn from the completion service.
type CompletionResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     TokenUsage `json:"usage"`
}

// TokenUsage tracks token usage per request.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionClient is the completion-service contract the orchestrator
// depends on. The service must echo each ToolCall.ID unchanged so results
// can be correlated back to their calls.
type CompletionClient interface {
	Complete(ctx context.Context, messages []Message, tools []Tool) (*CompletionResponse, error)
}
