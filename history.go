package analyst

import (
	"fmt"
	"strings"
)

// WorkerHistoryMode selects what the worker sees on each exchange.
type WorkerHistoryMode string

const (
	// WorkerStateless sends only the worker system prompt and the latest
	// planner instruction.
	WorkerStateless WorkerHistoryMode = "stateless"
	// WorkerAccumulate sends the whole worker history plus the instruction.
	WorkerAccumulate WorkerHistoryMode = "accumulate"
)

// ParseWorkerHistoryMode accepts the configuration spelling of a mode.
func ParseWorkerHistoryMode(s string) (WorkerHistoryMode, error) {
	switch WorkerHistoryMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", WorkerStateless:
		return WorkerStateless, nil
	case WorkerAccumulate:
		return WorkerAccumulate, nil
	}
	return "", fmt.Errorf("unknown worker history mode %q", s)
}

const workerTag = "[Worker] "

// history is an append-only message list.
type history struct {
	msgs []Message
}

func (h *history) append(role Role, content string) {
	h.msgs = append(h.msgs, Message{Role: role, Content: content})
}

// snapshot returns a copy so callers can't alias the backing array.
func (h *history) snapshot() []Message {
	out := make([]Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}
