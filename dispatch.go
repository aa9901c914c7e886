package analyst

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Protocol-Lattice/duo-analyst/src/concurrent"
)

const defaultCallTimeout = 3 * time.Minute

// DefaultResultPrefixes are the relay instructions wrapped around successful
// tool output so the worker passes it on instead of paraphrasing it.
var DefaultResultPrefixes = map[string]string{
	"read_csv_file":     "Here are the first few rows of the CSV file. Do not interpret, summarize, or modify this. Just return it to the Planner as-is:\n\n",
	"read_pdf_file":     "Here is the extracted text from the PDF. Do not interpret, summarize, or modify it. Just return it to the Planner as-is:\n\n",
	"read_text_file":    "The file's contents are as follows:\n\n",
	"read_image_file":   "Here is the image description. Do not interpret this, return it as-is to the Planner:\n\n",
	"convert_to_base64": "The image file has been successfully converted to a base64 string:\n\n",
}

// DefaultErrorPrefixes label expected tool failures for tools whose own
// messages do not say what failed.
var DefaultErrorPrefixes = map[string]string{
	"scrape_webpage": "Error scraping page: ",
}

// DispatcherOptions configure a Dispatcher.
type DispatcherOptions struct {
	Catalog *Catalog
	// Prefixes overrides DefaultResultPrefixes when non-nil.
	Prefixes map[string]string
	// ErrorPrefixes overrides DefaultErrorPrefixes when non-nil.
	ErrorPrefixes map[string]string
	// CallTimeout bounds a single tool invocation.
	CallTimeout time.Duration
	// Parallelism > 1 runs the calls of one worker turn concurrently.
	Parallelism int
	Logger      *slog.Logger
}

// Dispatcher resolves tool invocation requests into textual tool results. It
// never returns an error: every failure becomes result content.
type Dispatcher struct {
	catalog     *Catalog
	prefixes    map[string]string
	errPrefixes map[string]string
	callTimeout time.Duration
	parallelism int
	logger      *slog.Logger
}

// NewDispatcher builds a dispatcher over the given catalog.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Catalog == nil {
		return nil, errors.New("dispatcher requires a tool catalog")
	}
	prefixes := opts.Prefixes
	if prefixes == nil {
		prefixes = DefaultResultPrefixes
	}
	errPrefixes := opts.ErrorPrefixes
	if errPrefixes == nil {
		errPrefixes = DefaultErrorPrefixes
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		catalog:     opts.Catalog,
		prefixes:    prefixes,
		errPrefixes: errPrefixes,
		callTimeout: timeout,
		parallelism: parallelism,
		logger:      logger,
	}, nil
}

// Dispatch resolves a single call.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) ToolResult {
	return d.dispatch(ctx, call, nil, 0)
}

// DispatchAll resolves every call of one worker turn and returns the results in
// call order. Missing or repeated call ids are replaced first so each result
// pairs with exactly one call; the returned calls carry the ids actually used.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []ToolCall, log *RunLog, iteration int) ([]ToolCall, []ToolResult) {
	calls = normalizeCallIDs(calls)
	results := concurrent.OrderedMap(ctx, calls, d.parallelism, func(ctx context.Context, _ int, call ToolCall) ToolResult {
		return d.dispatch(ctx, call, log, iteration)
	})
	return calls, results
}

func (d *Dispatcher) dispatch(ctx context.Context, call ToolCall, log *RunLog, iteration int) ToolResult {
	start := time.Now()
	log.Record(Event{
		Kind:      EventToolCall,
		Iteration: iteration,
		Tool:      call.Name,
		CallID:    call.ID,
		Arguments: call.Arguments,
	})

	result := d.resolve(ctx, call)

	log.Record(Event{
		Kind:      EventToolResult,
		Iteration: iteration,
		Tool:      call.Name,
		CallID:    call.ID,
		Content:   result.Content,
		Duration:  time.Since(start),
		Error:     result.IsError,
	})
	d.logger.Debug("tool dispatched",
		"tool", call.Name,
		"call_id", call.ID,
		"error", result.IsError,
		"duration", time.Since(start),
	)
	return result
}

func (d *Dispatcher) resolve(ctx context.Context, call ToolCall) ToolResult {
	result := ToolResult{CallID: call.ID, Name: call.Name}

	tool, spec, ok := d.catalog.Lookup(call.Name)
	if !ok {
		result.Content = fmt.Sprintf("Tool '%s' not implemented.", call.Name)
		result.IsError = true
		return result
	}

	if err := ValidateArguments(spec.InputSchema, call.Arguments); err != nil {
		result.Content = "Error: " + err.Error()
		result.IsError = true
		return result
	}

	resp, err := d.invoke(ctx, tool, ToolRequest{CallID: call.ID, Arguments: call.Arguments})
	if err != nil {
		result.Content = "Error: " + err.Error()
		result.IsError = true
		return result
	}
	if resp.IsError {
		result.Content = d.errPrefixes[catalogKey(call.Name)] + resp.Content
		result.IsError = true
		return result
	}
	result.Content = d.prefixes[catalogKey(call.Name)] + resp.Content
	return result
}

// invoke runs the tool with a deadline and converts panics into errors. A tool
// that ignores its context is abandoned once the deadline passes.
func (d *Dispatcher) invoke(ctx context.Context, tool Tool, req ToolRequest) (ToolResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	type outcome struct {
		resp ToolResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		resp, err := tool.Invoke(ctx, req)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		return out.resp, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ToolResponse{}, fmt.Errorf("tool timed out after %s", d.callTimeout)
		}
		return ToolResponse{}, ctx.Err()
	}
}

func normalizeCallIDs(calls []ToolCall) []ToolCall {
	out := make([]ToolCall, len(calls))
	seen := make(map[string]struct{}, len(calls))
	for i, call := range calls {
		id := strings.TrimSpace(call.ID)
		if _, dup := seen[id]; id == "" || dup {
			id = "call_" + uuid.NewString()
		}
		seen[id] = struct{}{}
		call.ID = id
		out[i] = call
	}
	return out
}
