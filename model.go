package analyst

import (
	"context"
	"fmt"
	"strings"
)

// CompletionKind classifies what a model call produced.
type CompletionKind int

const (
	CompletionText CompletionKind = iota
	CompletionToolCalls
	CompletionQuota
	CompletionTransport
	CompletionMalformed
)

func (k CompletionKind) String() string {
	switch k {
	case CompletionText:
		return "text"
	case CompletionToolCalls:
		return "tool_calls"
	case CompletionQuota:
		return "quota"
	case CompletionTransport:
		return "transport"
	case CompletionMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("completion(%d)", int(k))
	}
}

// ToolChoiceAuto lets the model decide between text and tool calls.
const ToolChoiceAuto = "auto"

// CompletionRequest is one role-tagged message sequence sent to a model.
type CompletionRequest struct {
	Messages   []Message
	Tools      []ToolSpec
	ToolChoice string
}

// Completion is the tagged outcome of a model call. Provider failures are
// values, not Go errors: Detail carries the provider message and Raw the
// payload text so the failure can be reported verbatim.
type Completion struct {
	Kind      CompletionKind
	Text      string
	ToolCalls []ToolCall
	Detail    string
	Raw       string
}

// Failed reports whether the completion is one of the fatal kinds.
func (c Completion) Failed() bool {
	switch c.Kind {
	case CompletionQuota, CompletionTransport, CompletionMalformed:
		return true
	}
	return false
}

// TextCompletion builds a successful free-text completion.
func TextCompletion(text string) Completion {
	return Completion{Kind: CompletionText, Text: text}
}

// ToolCallCompletion builds a completion carrying tool invocations.
func ToolCallCompletion(text string, calls []ToolCall) Completion {
	return Completion{Kind: CompletionToolCalls, Text: text, ToolCalls: calls}
}

// FailedCompletion builds one of the fatal completion kinds.
func FailedCompletion(kind CompletionKind, detail, raw string) Completion {
	return Completion{Kind: kind, Detail: strings.TrimSpace(detail), Raw: raw}
}

// ChatModel is the transport contract shared by the planner and worker roles.
// Implementations must never panic on provider failures; they return a
// Completion of kind Quota, Transport or Malformed instead.
type ChatModel interface {
	Complete(ctx context.Context, req CompletionRequest) Completion
}

// ChatModelFunc adapts a function to ChatModel.
type ChatModelFunc func(ctx context.Context, req CompletionRequest) Completion

func (f ChatModelFunc) Complete(ctx context.Context, req CompletionRequest) Completion {
	return f(ctx, req)
}
