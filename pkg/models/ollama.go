package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"

	analyst "github.com/Protocol-Lattice/duo-analyst"
)

// OllamaConfig configures a local Ollama server.
type OllamaConfig struct {
	Host    string
	Model   string
	Timeout time.Duration
}

// OllamaChat implements analyst.ChatModel on Ollama's chat endpoint.
type OllamaChat struct {
	Client *ollama.Client
	Model  string
}

// NewOllamaChat builds a client for cfg.Host, falling back to OLLAMA_HOST.
func NewOllamaChat(cfg OllamaConfig) (*OllamaChat, error) {
	host := cfg.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("ollama requires a model name")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	c := ollama.NewClient(u, &http.Client{Timeout: timeout})
	return &OllamaChat{Client: c, Model: cfg.Model}, nil
}

// Complete runs a single non-streaming chat request.
func (o *OllamaChat) Complete(ctx context.Context, req analyst.CompletionRequest) analyst.Completion {
	tools, err := toOllamaTools(req.Tools)
	if err != nil {
		return analyst.FailedCompletion(analyst.CompletionTransport, err.Error(), "")
	}
	stream := false
	chatReq := &ollama.ChatRequest{
		Model:    o.Model,
		Messages: toOllamaMessages(req.Messages),
		Tools:    tools,
		Stream:   &stream,
	}

	var (
		text  strings.Builder
		calls []analyst.ToolCall
		done  bool
	)
	err = o.Client.Chat(ctx, chatReq, func(resp ollama.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		for _, tc := range resp.Message.ToolCalls {
			calls = append(calls, analyst.ToolCall{
				ID:        newCallID(),
				Name:      tc.Function.Name,
				Arguments: argumentsMap(tc.Function.Arguments),
			})
		}
		done = done || resp.Done
		return nil
	})
	if err != nil {
		var statusErr ollama.StatusError
		if errors.As(err, &statusErr) {
			return ClassifyHTTP(statusErr.StatusCode, statusErr.ErrorMessage)
		}
		return analyst.FailedCompletion(analyst.CompletionTransport, err.Error(), "")
	}
	if !done && text.Len() == 0 && len(calls) == 0 {
		return analyst.FailedCompletion(analyst.CompletionMalformed, "ollama returned no message", "")
	}
	if len(calls) > 0 {
		return analyst.ToolCallCompletion(text.String(), calls)
	}
	return analyst.TextCompletion(text.String())
}

func toOllamaMessages(msgs []analyst.Message) []ollama.Message {
	out := make([]ollama.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ollama.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// toOllamaTools reuses the OpenAI document shape, which Ollama accepts as is.
func toOllamaTools(specs []analyst.ToolSpec) (ollama.Tools, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(ollama.Tools, 0, len(specs))
	for _, spec := range specs {
		data, err := json.Marshal(analyst.DocumentFor(spec))
		if err != nil {
			return nil, fmt.Errorf("encode tool %s: %w", spec.Name, err)
		}
		var tool ollama.Tool
		if err := json.Unmarshal(data, &tool); err != nil {
			return nil, fmt.Errorf("convert tool %s: %w", spec.Name, err)
		}
		out = append(out, tool)
	}
	return out, nil
}

func argumentsMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	args := map[string]any{}
	if err := json.Unmarshal(data, &args); err != nil {
		return map[string]any{}
	}
	return args
}
