package models

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	analyst "github.com/Protocol-Lattice/duo-analyst"
)

const defaultAnthropicModel = "claude-3-5-sonnet-latest"

// AnthropicConfig configures the Messages API client.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// AnthropicChat implements analyst.ChatModel on Anthropic's Messages API.
type AnthropicChat struct {
	Client    *anthropic.Client
	Model     string
	MaxTokens int
}

// NewAnthropicChat constructs a client. It reads ANTHROPIC_API_KEY when no key is given.
func NewAnthropicChat(cfg AnthropicConfig) *AnthropicChat {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	opts := []anthropicopt.RequestOption{
		anthropicopt.WithAPIKey(key),
		anthropicopt.WithHTTPClient(&http.Client{Timeout: timeout}),
		anthropicopt.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(cfg.BaseURL))
	}
	cl := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicChat{Client: &cl, Model: model, MaxTokens: maxTokens}
}

// Complete sends the conversation and collects text and tool_use blocks.
func (a *AnthropicChat) Complete(ctx context.Context, req analyst.CompletionRequest) analyst.Completion {
	system, messages := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.Model),
		MaxTokens: int64(a.MaxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
		if req.ToolChoice == analyst.ToolChoiceAuto {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	msg, err := a.Client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return ClassifyHTTP(apiErr.StatusCode, apiErr.RawJSON())
		}
		return analyst.FailedCompletion(analyst.CompletionTransport, err.Error(), "")
	}

	var (
		text  strings.Builder
		calls []analyst.ToolCall
	)
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(v.Text)
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if raw := v.JSON.Input.Raw(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					args = map[string]any{}
				}
			}
			calls = append(calls, analyst.ToolCall{ID: v.ID, Name: v.Name, Arguments: args})
		}
	}
	if len(calls) > 0 {
		return analyst.ToolCallCompletion(text.String(), calls)
	}
	if len(msg.Content) == 0 {
		return analyst.FailedCompletion(analyst.CompletionMalformed, "response has no content blocks", msg.RawJSON())
	}
	if c, ok := ClassifyText(text.String()); ok {
		return c
	}
	return analyst.TextCompletion(text.String())
}

// toAnthropicMessages lifts system messages into the system prompt. Tool role
// messages are sent as user text since histories never carry tool_use blocks.
func toAnthropicMessages(msgs []analyst.Message) (string, []anthropic.MessageParam) {
	var system []string
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case analyst.RoleSystem:
			system = append(system, m.Content)
		case analyst.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(nonEmpty(m.Content))))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(nonEmpty(m.Content))))
		}
	}
	return strings.Join(system, "\n\n"), out
}

// nonEmpty guards against the API rejecting empty text blocks.
func nonEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(empty)"
	}
	return s
}

func toAnthropicTools(specs []analyst.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		schema := anthropic.ToolInputSchemaParam{
			Properties: spec.InputSchema["properties"],
			Required:   requiredList(spec.InputSchema),
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: schema,
		}})
	}
	return out
}

func requiredList(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
