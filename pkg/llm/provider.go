package llm

import (
	"context"
)

// Provider is a chat completion backend. Complete blocks until the model has
// produced its full reply for the current turn.
type Provider interface {
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Completion, error)
}

type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolCalls is set on assistant messages that requested tool
	// invocations; providers need them replayed so tool results pair
	// up with their originating calls.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Completion is the model's reply to one request. When the model wants tools
// executed instead of answering, ToolCalls is non-empty and Answer may carry
// interstitial text.
type Completion struct {
	Answer    string
	ToolCalls []ToolCall
	Tokens    int
	TokensIn  int
	TokensOut int
}

// Final reports whether the model produced a terminal answer rather than
// requesting tool invocations.
func (c *Completion) Final() bool {
	return len(c.ToolCalls) == 0
}

// Message role constants shared across providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)
