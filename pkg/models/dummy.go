package models

import (
	"context"
	"strings"
	"sync"

	analyst "github.com/Protocol-Lattice/duo-analyst"
)

// ScriptedChat replays canned completions, useful for local runs without API calls.
// Once the script is used up it returns Fallback, or echoes the last message
// when Fallback is zero.
type ScriptedChat struct {
	mu       sync.Mutex
	script   []analyst.Completion
	Fallback analyst.Completion
	Prefix   string
}

// NewScriptedChat returns a model that answers with replies in order.
func NewScriptedChat(prefix string, replies ...analyst.Completion) *ScriptedChat {
	if strings.TrimSpace(prefix) == "" {
		prefix = "Dummy response:"
	}
	return &ScriptedChat{script: replies, Prefix: prefix}
}

// Complete pops the next scripted completion.
func (d *ScriptedChat) Complete(_ context.Context, req analyst.CompletionRequest) analyst.Completion {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.script) > 0 {
		next := d.script[0]
		d.script = d.script[1:]
		return next
	}
	if d.Fallback.Kind != analyst.CompletionText || d.Fallback.Text != "" {
		return d.Fallback
	}
	return analyst.TextCompletion(d.Prefix + " " + lastLine(req.Messages))
}

func lastLine(msgs []analyst.Message) string {
	if len(msgs) == 0 {
		return "<empty prompt>"
	}
	lines := strings.Split(msgs[len(msgs)-1].Content, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if candidate := strings.TrimSpace(lines[i]); candidate != "" {
			return candidate
		}
	}
	return "<empty prompt>"
}

var _ analyst.ChatModel = (*ScriptedChat)(nil)
