package analyst

import (
	"context"
	"errors"
	"log/slog"
)

// State is a position in the planner/worker state machine.
type State string

const (
	StateAwaitPlanner    State = "AWAIT_PLANNER"
	StateAwaitWorker     State = "AWAIT_WORKER"
	StateDispatchTools   State = "DISPATCH_TOOLS"
	StateTerminatedOK    State = "TERMINATED_OK"
	StateTerminatedError State = "TERMINATED_ERROR"
)

// DefaultMaxIterations bounds planner turns when Options leaves it unset.
const DefaultMaxIterations = 5

// Options configure a Conversation.
type Options struct {
	Planner ChatModel
	Worker  ChatModel
	Catalog *Catalog
	// Dispatcher defaults to a sequential dispatcher over Catalog.
	Dispatcher    *Dispatcher
	MaxIterations int
	WorkerHistory WorkerHistoryMode
	// Prompts defaults to the built-in templates rendered against Catalog.
	Prompts *Prompts
	Logger  *slog.Logger
}

// Conversation drives a planner and a worker until the planner declares a
// final answer. A Conversation holds configuration only; every Run owns its
// own histories, counters and log, so one value can serve many runs.
type Conversation struct {
	plannerModel  ChatModel
	workerModel   ChatModel
	catalog       *Catalog
	dispatcher    *Dispatcher
	maxIterations int
	workerMode    WorkerHistoryMode
	prompts       Prompts
	logger        *slog.Logger
}

// New validates opts and builds a Conversation.
func New(opts Options) (*Conversation, error) {
	if opts.Planner == nil {
		return nil, errors.New("conversation requires a planner model")
	}
	if opts.Worker == nil {
		return nil, errors.New("conversation requires a worker model")
	}
	if opts.Catalog == nil {
		return nil, errors.New("conversation requires a tool catalog")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	mode := opts.WorkerHistory
	if mode == "" {
		mode = WorkerStateless
	}
	if mode != WorkerStateless && mode != WorkerAccumulate {
		return nil, errors.New("unknown worker history mode " + string(mode))
	}

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		var err error
		dispatcher, err = NewDispatcher(DispatcherOptions{Catalog: opts.Catalog, Logger: logger})
		if err != nil {
			return nil, err
		}
	}

	var prompts Prompts
	if opts.Prompts != nil {
		prompts = *opts.Prompts
	} else {
		var err error
		data := DefaultPromptData(opts.Catalog)
		data.WorkerHistory = mode
		prompts, err = RenderPrompts(data)
		if err != nil {
			return nil, err
		}
	}

	return &Conversation{
		plannerModel:  opts.Planner,
		workerModel:   opts.Worker,
		catalog:       opts.Catalog,
		dispatcher:    dispatcher,
		maxIterations: maxIterations,
		workerMode:    mode,
		prompts:       prompts,
		logger:        logger,
	}, nil
}

// run is the per-invocation state of one conversation.
type run struct {
	*Conversation

	planner history
	worker  history
	log     *RunLog
	result  Result
}

// Run executes one conversation. It never returns an error: every outcome,
// including provider failures and budget exhaustion, is described by Result.
func (c *Conversation) Run(ctx context.Context) Result {
	r := &run{Conversation: c, log: NewRunLog()}
	r.planner.append(RoleSystem, c.prompts.Planner)
	r.planner.append(RoleUser, c.prompts.Kickoff)
	r.worker.append(RoleSystem, c.prompts.Worker)

	logger := c.logger.With("run_id", r.log.ID)
	logger.Info("conversation started", "max_iterations", c.maxIterations, "worker_history", string(c.workerMode))

	r.loop(ctx, logger)

	r.result.RunID = r.log.ID
	r.result.Planner = r.planner.snapshot()
	r.result.Worker = r.worker.snapshot()
	r.result.Log = r.log
	r.log.Record(Event{
		Kind:      EventTerminated,
		Iteration: r.result.Iterations,
		State:     r.result.State,
		Content:   r.result.Answer,
		Error:     !r.result.OK(),
	})

	if r.result.OK() {
		logger.Info("conversation finished",
			"iterations", r.result.Iterations,
			"planner_calls", r.result.PlannerCalls,
			"worker_calls", r.result.WorkerCalls,
		)
	} else {
		logger.Warn("conversation failed",
			"reason", string(r.result.Reason),
			"iterations", r.result.Iterations,
			"answer", r.result.Answer,
		)
	}
	return r.result
}

func (r *run) loop(ctx context.Context, logger *slog.Logger) {
	for r.result.Iterations < r.maxIterations {
		if err := ctx.Err(); err != nil {
			r.fail(FailedCompletion(CompletionTransport, err.Error(), ""))
			return
		}
		r.result.Iterations++
		iteration := r.result.Iterations

		r.result.State = StateAwaitPlanner
		logger.Debug("awaiting planner", "iteration", iteration)
		reply := r.plannerModel.Complete(ctx, CompletionRequest{Messages: r.planner.snapshot()})
		r.result.PlannerCalls++
		if reply.Failed() {
			r.fail(reply)
			return
		}

		instruction := reply.Text
		r.planner.append(RoleAssistant, instruction)
		r.log.Record(Event{
			Kind:      EventPlannerResponse,
			Iteration: iteration,
			State:     StateAwaitPlanner,
			Content:   instruction,
		})
		if len(reply.ToolCalls) > 0 {
			logger.Warn("planner requested tools; ignoring", "count", len(reply.ToolCalls))
		}

		if HasFinalAnswer(instruction) {
			r.result.State = StateTerminatedOK
			r.result.Reason = ReasonFinalAnswer
			r.result.Answer = CleanAnswer(instruction)
			return
		}

		r.result.State = StateAwaitWorker
		logger.Debug("awaiting worker", "iteration", iteration)
		r.worker.append(RoleUser, instruction)
		answer := r.workerModel.Complete(ctx, CompletionRequest{
			Messages:   r.workerRequest(instruction),
			Tools:      r.catalog.Specs(),
			ToolChoice: ToolChoiceAuto,
		})
		r.result.WorkerCalls++
		if answer.Failed() {
			r.fail(answer)
			return
		}
		r.log.Record(Event{
			Kind:      EventWorkerResponse,
			Iteration: iteration,
			State:     StateAwaitWorker,
			Content:   answer.Text,
		})

		if answer.Kind == CompletionToolCalls && len(answer.ToolCalls) > 0 {
			r.result.State = StateDispatchTools
			logger.Debug("dispatching tools", "iteration", iteration, "count", len(answer.ToolCalls))
			calls, results := r.dispatcher.DispatchAll(ctx, answer.ToolCalls, r.log, iteration)
			for i, res := range results {
				r.relay(Message{Content: workerTag + res.Content, ToolCallID: calls[i].ID})
			}
			continue
		}

		r.relay(Message{Content: workerTag + answer.Text})
	}

	r.result.State = StateTerminatedError
	r.result.Reason = ReasonBudgetExhausted
	r.result.Answer = BudgetExhaustedAnswer
}

// workerRequest builds the message list for the worker's next call.
func (r *run) workerRequest(instruction string) []Message {
	if r.workerMode == WorkerAccumulate {
		return r.worker.snapshot()
	}
	return []Message{
		{Role: RoleSystem, Content: r.prompts.Worker},
		{Role: RoleUser, Content: instruction},
	}
}

// relay appends worker output to the worker's own history as context and to
// the planner's history as its next input.
func (r *run) relay(msg Message) {
	w := msg
	w.Role = RoleAssistant
	r.worker.msgs = append(r.worker.msgs, w)

	p := msg
	p.Role = RoleUser
	r.planner.msgs = append(r.planner.msgs, p)
}

func (r *run) fail(c Completion) {
	r.result.State = StateTerminatedError
	r.result.Reason = failureReason(c.Kind)
	r.result.Answer = failureAnswer(c)
}
