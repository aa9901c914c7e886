// Package tools implements the worker's built-in tools on top of a per-run
// sandbox. Every tool takes plain file names and reports expected failures as
// error-flagged responses so the dispatcher can relay them to the planner.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/invopop/jsonschema"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/course"
	"github.com/Protocol-Lattice/duo-analyst/pkg/sandbox"
)

// ImageDescriber turns image bytes into a textual description.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, data []byte, mimeType, prompt string) (string, error)
}

// CourseSearcher looks up course chunks similar to a query.
type CourseSearcher interface {
	TopK(ctx context.Context, query string, k int) ([]course.Match, error)
}

// Env carries the collaborators tools need for one run. Describer and Course
// are optional; the matching tools stay unbound when they are nil.
type Env struct {
	Sandbox   *sandbox.Sandbox
	Describer ImageDescriber
	Course    CourseSearcher
	Fetcher   PageFetcher
	Code      CodeOptions
	Logger    *slog.Logger
}

// Builtins returns every tool whose collaborators are available in env.
func Builtins(env Env) ([]analyst.Tool, error) {
	if env.Sandbox == nil {
		return nil, fmt.Errorf("tools require a sandbox")
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if env.Fetcher == nil {
		env.Fetcher = NewHTTPFetcher(nil)
	}

	out := []analyst.Tool{
		ReadTextFile(env.Sandbox),
		ReadCSVFile(env.Sandbox),
		ReadPDFFile(env.Sandbox),
		ConvertToBase64(env.Sandbox),
		SaveToCSV(env.Sandbox),
		SaveToJSON(env.Sandbox),
		ScrapeWebpage(env.Sandbox, env.Fetcher, env.Logger),
		GetRelevantData(env.Sandbox),
		ExecuteCode(env.Sandbox, env.Code),
	}
	if env.Describer != nil {
		out = append(out, ReadImageFile(env.Sandbox, env.Describer))
	}
	if env.Course != nil {
		out = append(out, ReferenceCourseContent(env.Course))
	}
	return out, nil
}

// Specs reflects the descriptor of every built-in tool, including the
// optional ones. No sandbox is needed because specs never touch it.
func Specs() []analyst.ToolSpec {
	all := []analyst.Tool{
		ReadTextFile(nil),
		ReadCSVFile(nil),
		ReadPDFFile(nil),
		ReadImageFile(nil, nil),
		ConvertToBase64(nil),
		SaveToCSV(nil),
		SaveToJSON(nil),
		ScrapeWebpage(nil, nil, nil),
		GetRelevantData(nil),
		ExecuteCode(nil, CodeOptions{}),
		ReferenceCourseContent(nil),
	}
	specs := make([]analyst.ToolSpec, 0, len(all))
	for _, t := range all {
		specs = append(specs, t.Spec())
	}
	return specs
}

// Definition adapts a typed handler to analyst.Tool. Arguments are decoded
// into T through a JSON round trip and the schema is reflected from T.
type Definition[T any] struct {
	Name        string
	Description string
	Run         func(ctx context.Context, in T) (analyst.ToolResponse, error)
}

func (d *Definition[T]) Spec() analyst.ToolSpec {
	return analyst.ToolSpec{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: GenerateSchema[T](),
	}
}

func (d *Definition[T]) Invoke(ctx context.Context, req analyst.ToolRequest) (analyst.ToolResponse, error) {
	var in T
	if len(req.Arguments) > 0 {
		raw, err := json.Marshal(req.Arguments)
		if err != nil {
			return analyst.ToolResponse{}, fmt.Errorf("encode arguments: %w", err)
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return analyst.ToolResponse{}, fmt.Errorf("decode arguments: %w", err)
		}
	}
	return d.Run(ctx, in)
}

// GenerateSchema reflects the JSON schema of T's fields. Fields without
// omitempty are required.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	delete(out, "additionalProperties")
	return out
}

func reply(content string) (analyst.ToolResponse, error) {
	return analyst.ToolResponse{Content: content}, nil
}

func failf(format string, args ...any) (analyst.ToolResponse, error) {
	return analyst.ToolResponse{Content: fmt.Sprintf(format, args...), IsError: true}, nil
}
