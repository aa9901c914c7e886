package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	analyst "github.com/Protocol-Lattice/duo-analyst"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultHTTPTimeout = 60 * time.Second
)

// OpenAIConfig configures an OpenAI-compatible chat endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// Transport overrides the HTTP transport used underneath the body capture.
	Transport http.RoundTripper
}

// OpenAIChat talks to an OpenAI-compatible chat completions endpoint.
type OpenAIChat struct {
	Client *openai.Client
	Model  string
}

// NewOpenAIChat builds a client. An empty API key falls back to OPENAI_API_KEY
// and then AIPIPE_TOKEN.
func NewOpenAIChat(cfg OpenAIConfig) *OpenAIChat {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("AIPIPE_TOKEN")
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: &captureTransport{base: cfg.Transport},
	}
	return &OpenAIChat{Client: openai.NewClientWithConfig(clientCfg), Model: model}
}

// Complete sends one chat completion request and classifies the outcome.
func (o *OpenAIChat) Complete(ctx context.Context, req analyst.CompletionRequest) analyst.Completion {
	capture := &bodyCapture{}
	ctx = context.WithValue(ctx, captureKey{}, capture)

	resp, err := o.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:      o.Model,
		Messages:   toOpenAIMessages(req.Messages),
		Tools:      toOpenAITools(req.Tools),
		ToolChoice: openAIToolChoice(req),
	})
	status, body := capture.get()

	// Error documents sometimes arrive with a 2xx status and decode into an
	// empty completion, so the raw body is checked before anything else.
	if c, ok := ClassifyPayload(body); ok {
		return c
	}
	if err != nil {
		return classifyOpenAIError(err, status, body)
	}
	if len(resp.Choices) == 0 {
		return analyst.FailedCompletion(analyst.CompletionMalformed, "response has no choices[0].message", body)
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		return analyst.ToolCallCompletion(msg.Content, fromOpenAIToolCalls(msg.ToolCalls))
	}
	if c, ok := ClassifyText(msg.Content); ok {
		return c
	}
	return analyst.TextCompletion(msg.Content)
}

func classifyOpenAIError(err error, status int, body string) analyst.Completion {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || isQuotaCode(code) || isQuotaCode(apiErr.Type) || IsQuotaMessage(apiErr.Message) {
			return analyst.FailedCompletion(analyst.CompletionQuota, apiErr.Message, body)
		}
		return analyst.FailedCompletion(analyst.CompletionTransport, apiErr.Error(), body)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return ClassifyHTTP(reqErr.HTTPStatusCode, body)
	}
	// A 2xx response that failed to decode is a malformed body, anything else
	// never produced a usable response.
	if status >= 200 && status < 300 {
		return analyst.FailedCompletion(analyst.CompletionMalformed, err.Error(), body)
	}
	return analyst.FailedCompletion(analyst.CompletionTransport, err.Error(), body)
}

func toOpenAIMessages(msgs []analyst.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		msg := openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == analyst.RoleTool {
			msg.ToolCallID = m.ToolCallID
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(specs []analyst.ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		params := spec.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func openAIToolChoice(req analyst.CompletionRequest) any {
	if len(req.Tools) == 0 || req.ToolChoice == "" {
		return nil
	}
	return req.ToolChoice
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []analyst.ToolCall {
	out := make([]analyst.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, analyst.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Arguments),
		})
	}
	return out
}

// decodeArguments parses a JSON argument string. Undecodable input yields an
// empty map so schema validation reports what is missing.
func decodeArguments(raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

func newCallID() string {
	return "call_" + uuid.NewString()
}

type captureKey struct{}

// bodyCapture keeps the last raw response of one request for classification.
type bodyCapture struct {
	mu     sync.Mutex
	status int
	body   []byte
}

func (c *bodyCapture) set(status int, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	c.body = body
}

func (c *bodyCapture) get() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, string(c.body)
}

const maxCapturedBody = 4 << 20

// captureTransport buffers response bodies so error payloads that the SDK
// decodes away stay visible to the classifier.
type captureTransport struct {
	base http.RoundTripper
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	capture, ok := req.Context().Value(captureKey{}).(*bodyCapture)
	if !ok {
		return resp, nil
	}
	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	capture.set(resp.StatusCode, data)
	resp.Body = io.NopCloser(bytes.NewReader(data))
	resp.ContentLength = int64(len(data))
	return resp, nil
}
