package analyst

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind names an entry in a RunLog.
type EventKind string

const (
	EventPlannerResponse EventKind = "planner_response"
	EventWorkerResponse  EventKind = "worker_response"
	EventToolCall        EventKind = "tool_call"
	EventToolResult      EventKind = "tool_result"
	EventTerminated      EventKind = "terminated"
)

const maxLoggedContent = 4000

// Event is one observation recorded during a run.
type Event struct {
	Time      time.Time      `json:"time"`
	Kind      EventKind      `json:"kind"`
	Iteration int            `json:"iteration"`
	State     State          `json:"state,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Content   string         `json:"content,omitempty"`
	Duration  time.Duration  `json:"duration_ns,omitempty"`
	Error     bool           `json:"error,omitempty"`
}

// RunLog is the per-run record of model turns and tool calls. It is safe for
// concurrent use because tool calls of one turn may be dispatched in parallel.
type RunLog struct {
	ID string

	mu     sync.Mutex
	events []Event
	now    func() time.Time
}

// NewRunLog creates an empty log with a fresh run id.
func NewRunLog() *RunLog {
	return &RunLog{ID: uuid.NewString(), now: time.Now}
}

// Record appends ev, stamping its time and clipping long content.
func (l *RunLog) Record(ev Event) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev.Time.IsZero() {
		ev.Time = l.now()
	}
	ev.Content = clip(ev.Content, maxLoggedContent)
	l.events = append(l.events, ev)
}

// Events returns a copy of the recorded events.
func (l *RunLog) Events() []Event {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// ToolCalls returns only the tool_call events, in the order they were issued.
func (l *RunLog) ToolCalls() []Event {
	var out []Event
	for _, ev := range l.Events() {
		if ev.Kind == EventToolCall {
			out = append(out, ev)
		}
	}
	return out
}

// WriteJSON writes the log as an indented JSON document.
func (l *RunLog) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		RunID  string  `json:"run_id"`
		Events []Event `json:"events"`
	}{RunID: l.ID, Events: l.Events()})
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
