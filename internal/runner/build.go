package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/internal/config"
	"github.com/Protocol-Lattice/duo-analyst/pkg/course"
	"github.com/Protocol-Lattice/duo-analyst/pkg/models"
	"github.com/Protocol-Lattice/duo-analyst/pkg/tools"
)

// Components is everything built from a Config. Close releases the browser,
// model clients and course store.
type Components struct {
	Runner   *Runner
	Embedder course.Embedder
	Store    course.Store
	closers  []io.Closer
}

func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Build wires models, tools and the course index from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Components, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	comp := &Components{}
	defer func() {
		if err != nil {
			_ = comp.Close()
		}
	}()

	planner, err := models.NewChatModel(ctx, cfg.Planner)
	if err != nil {
		return nil, fmt.Errorf("planner model: %w", err)
	}
	worker, err := models.NewChatModel(ctx, cfg.Worker)
	if err != nil {
		return nil, fmt.Errorf("worker model: %w", err)
	}

	specs, err := loadSpecs(cfg.Tools.SchemaDir)
	if err != nil {
		return nil, err
	}

	mode, err := analyst.ParseWorkerHistoryMode(cfg.Conversation.WorkerHistory)
	if err != nil {
		return nil, err
	}

	opts := Options{
		Planner: planner,
		Worker:  worker,
		Specs:   specs,
		Code: tools.CodeOptions{
			Python:         cfg.Tools.Python,
			DefaultTimeout: cfg.Tools.CodeTimeout,
			MaxTimeout:     cfg.Tools.CodeMaxTimeout,
		},
		MaxIterations:   cfg.Conversation.MaxIterations,
		WorkerHistory:   mode,
		ToolParallelism: cfg.Conversation.ToolParallelism,
		ToolTimeout:     cfg.Conversation.ToolTimeout,
		Logger:          logger,
	}

	if cfg.Vision.APIKey != "" {
		vision, err := models.NewGeminiVision(ctx, cfg.Vision.APIKey, cfg.Vision.Model)
		if err != nil {
			return nil, fmt.Errorf("vision model: %w", err)
		}
		comp.closers = append(comp.closers, vision)
		opts.Describer = vision
	} else {
		logger.Warn("no vision api key configured; read_image_file is disabled")
	}

	opts.Fetcher = tools.NewHTTPFetcher(nil)
	if cfg.Tools.Browser {
		rod := tools.NewRodFetcher(tools.RodOptions{ControlURL: cfg.Tools.ChromeURL, Logger: logger})
		comp.closers = append(comp.closers, rod)
		opts.Fetcher = tools.FallbackFetcher{Primary: rod, Secondary: opts.Fetcher, Logger: logger}
	}

	emb, store, err := comp.openCourse(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if store != nil {
		retriever, err := course.NewRetriever(emb, store)
		if err != nil {
			return nil, err
		}
		opts.Course = retriever
	}

	comp.Runner, err = New(opts)
	if err != nil {
		return nil, err
	}
	return comp, nil
}

// BuildCourse opens only the course embedder and store, for indexing.
func BuildCourse(ctx context.Context, cfg *config.Config) (*Components, error) {
	comp := &Components{}
	if _, _, err := comp.openCourse(ctx, cfg); err != nil {
		_ = comp.Close()
		return nil, err
	}
	if comp.Store == nil {
		return nil, errors.New("course store is disabled")
	}
	return comp, nil
}

func (c *Components) openCourse(ctx context.Context, cfg *config.Config) (course.Embedder, course.Store, error) {
	var store course.Store
	switch strings.ToLower(cfg.Course.Store) {
	case "", "none":
		return nil, nil, nil
	case "memory":
		ms, err := course.OpenMemoryStore(cfg.Course.Path)
		if err != nil {
			return nil, nil, err
		}
		store = ms
	case "postgres":
		ps, err := course.NewPostgresStore(ctx, cfg.Course.DSN)
		if err != nil {
			return nil, nil, err
		}
		store = ps
	default:
		return nil, nil, fmt.Errorf("unknown course store %q", cfg.Course.Store)
	}
	c.closers = append(c.closers, store)
	c.Store = store

	var emb course.Embedder
	switch strings.ToLower(cfg.Course.Embedder) {
	case "", "openai":
		key, base := cfg.Course.APIKey, cfg.Course.BaseURL
		if key == "" {
			key = cfg.Planner.APIKey
			if base == "" {
				base = models.OpenAIBaseURL(cfg.Planner)
			}
		}
		emb = course.NewOpenAIEmbedder(key, base, cfg.Course.Model)
	case "fastembed":
		fe, err := course.NewFastEmbedder(course.FastEmbedOptions{Model: cfg.Course.Model})
		if err != nil {
			return nil, nil, err
		}
		c.closers = append(c.closers, fe)
		emb = fe
	case "dummy":
		emb = course.DummyEmbedder{Dim: 64}
	default:
		return nil, nil, fmt.Errorf("unknown course embedder %q", cfg.Course.Embedder)
	}
	c.Embedder = emb
	return emb, store, nil
}

func loadSpecs(dir string) ([]analyst.ToolSpec, error) {
	if dir == "" {
		return analyst.BuiltinToolSpecs()
	}
	specs, err := analyst.LoadToolSpecsDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load tool specs from %s: %w", dir, err)
	}
	return specs, nil
}
