package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/genai"

	"incident-assistant/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*GeminiAdapter)(nil)

type GeminiAdapter struct {
	client *genai.Client
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c}, nil
}

func (g *GeminiAdapter) Provider() string { return "gemini" }

// Run sends system messages as the system instruction and the rest as contents.
// The reply text is returned as a bare JSON string.
func (g *GeminiAdapter) Run(ctx context.Context, model string, in adapter.GenerationInput) ([]byte, error) {
	system, contents := toGenAIContents(in.Messages)
	if len(contents) == 0 {
		return nil, errors.New("gemini: invalid request, no user content")
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(in.Temperature)),
	}
	if in.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(in.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, upstreamFromGenAI(err)
	}
	return json.Marshal(resp.Text())
}

func toGenAIContents(msgs []adapter.Message) (string, []*genai.Content) {
	var system []string
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			system = append(system, m.Content)
		case "assistant", "model":
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), out
}

// upstreamFromGenAI keeps the HTTP status of SDK errors visible to classification.
func upstreamFromGenAI(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &adapter.UpstreamError{Status: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &adapter.UpstreamError{Status: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return err
}
