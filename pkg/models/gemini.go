package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiVision describes images with a Gemini multimodal model.
type GeminiVision struct {
	Client *genai.Client
	Model  string
}

// NewGeminiVision creates a client from apiKey, falling back to GOOGLE_API_KEY
// and GEMINI_API_KEY.
func NewGeminiVision(ctx context.Context, apiKey, model string) (*GeminiVision, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("missing GOOGLE_API_KEY or GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiVision{Client: client, Model: model}, nil
}

// DescribeImage sends the image and prompt and returns the text reply.
func (g *GeminiVision) DescribeImage(ctx context.Context, data []byte, mimeType, prompt string) (string, error) {
	format := strings.TrimPrefix(strings.ToLower(mimeType), "image/")
	if format == "" || format == "jpg" {
		format = "jpeg"
	}
	model := g.Client.GenerativeModel(g.Model)
	resp, err := model.GenerateContent(ctx, genai.ImageData(format, data), genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini: empty response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("gemini: response has no text")
	}
	return sb.String(), nil
}

// Close releases the underlying client.
func (g *GeminiVision) Close() error {
	return g.Client.Close()
}
