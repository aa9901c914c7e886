// Package runner assembles one planner/worker conversation over a sandbox:
// it binds the built-in tools to the sandbox, builds the catalog and
// dispatcher and runs the loop.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/sandbox"
	"github.com/Protocol-Lattice/duo-analyst/pkg/tools"
)

// Options are shared by every run.
type Options struct {
	Planner analyst.ChatModel
	Worker  analyst.ChatModel
	// Specs are the advertised tool documents. Empty uses the embedded set.
	Specs           []analyst.ToolSpec
	Describer       tools.ImageDescriber
	Course          tools.CourseSearcher
	Fetcher         tools.PageFetcher
	Code            tools.CodeOptions
	MaxIterations   int
	WorkerHistory   analyst.WorkerHistoryMode
	ToolParallelism int
	ToolTimeout     time.Duration
	Logger          *slog.Logger
}

// Runner starts conversations. It is safe for concurrent use.
type Runner struct {
	opts Options
}

func New(opts Options) (*Runner, error) {
	if opts.Planner == nil || opts.Worker == nil {
		return nil, errors.New("runner requires planner and worker models")
	}
	if len(opts.Specs) == 0 {
		specs, err := analyst.BuiltinToolSpecs()
		if err != nil {
			return nil, fmt.Errorf("load tool specs: %w", err)
		}
		opts.Specs = specs
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{opts: opts}, nil
}

// Catalog advertises every spec and binds the tools available for sb.
func (r *Runner) Catalog(sb *sandbox.Sandbox) (*analyst.Catalog, error) {
	catalog := analyst.NewCatalog()
	for _, spec := range r.opts.Specs {
		if err := catalog.Describe(spec); err != nil {
			return nil, err
		}
	}
	bound, err := tools.Builtins(tools.Env{
		Sandbox:   sb,
		Describer: r.opts.Describer,
		Course:    r.opts.Course,
		Fetcher:   r.opts.Fetcher,
		Code:      r.opts.Code,
		Logger:    r.opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	for _, tool := range bound {
		if err := catalog.Register(tool); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// Run executes one conversation against the files in sb. The error is only
// set when the conversation could not be assembled; provider failures are
// reported through the Result.
func (r *Runner) Run(ctx context.Context, sb *sandbox.Sandbox) (analyst.Result, error) {
	catalog, err := r.Catalog(sb)
	if err != nil {
		return analyst.Result{}, err
	}
	dispatcher, err := analyst.NewDispatcher(analyst.DispatcherOptions{
		Catalog:     catalog,
		CallTimeout: r.opts.ToolTimeout,
		Parallelism: r.opts.ToolParallelism,
		Logger:      r.opts.Logger,
	})
	if err != nil {
		return analyst.Result{}, err
	}

	data := analyst.DefaultPromptData(catalog)
	if r.opts.WorkerHistory != "" {
		data.WorkerHistory = r.opts.WorkerHistory
	}
	if limit := r.opts.Code.MaxTimeout; limit > 0 {
		data.CodeTimeoutMax = int(limit / time.Second)
	}
	prompts, err := analyst.RenderPrompts(data)
	if err != nil {
		return analyst.Result{}, fmt.Errorf("render prompts: %w", err)
	}

	conv, err := analyst.New(analyst.Options{
		Planner:       r.opts.Planner,
		Worker:        r.opts.Worker,
		Catalog:       catalog,
		Dispatcher:    dispatcher,
		MaxIterations: r.opts.MaxIterations,
		WorkerHistory: r.opts.WorkerHistory,
		Prompts:       &prompts,
		Logger:        r.opts.Logger,
	})
	if err != nil {
		return analyst.Result{}, err
	}
	return conv.Run(ctx), nil
}
