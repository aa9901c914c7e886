package analyst

import "context"

// Role tags a message with the speaker it came from.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation history. Messages are appended, never edited.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolSpec describes how a tool is presented to the worker model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"parameters"`
}

// ToolCall is a structured tool invocation produced by the worker model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the normalised, textual outcome of one ToolCall.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolRequest captures an invocation request for a tool.
type ToolRequest struct {
	CallID    string
	Arguments map[string]any
}

// ToolResponse is what a tool hands back to the dispatcher. IsError marks an
// expected failure the tool already phrased for the model.
type ToolResponse struct {
	Content string
	IsError bool
}

// Tool exposes structured metadata and an invocation handler.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, req ToolRequest) (ToolResponse, error)
}
