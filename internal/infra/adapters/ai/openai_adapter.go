package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"incident-assistant/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.AIServiceAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements adapter.AIServiceAdapter using the Chat Completions API.
// Any OpenAI-compatible gateway works through base.
type OpenAIAdapter struct {
	client openai.Client
}

func NewOpenAIAdapter(apiKey, base string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries belong to the generation client
		option.WithMaxRetries(0),
	}
	if base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(base, "/")+"/"))
	}
	return &OpenAIAdapter{client: openai.NewClient(opts...)}, nil
}

func (o *OpenAIAdapter) Provider() string { return "openai" }

func (o *OpenAIAdapter) Run(ctx context.Context, model string, in adapter.GenerationInput) ([]byte, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(in.Messages),
	}
	if in.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(in.MaxTokens))
	}
	params.Temperature = openai.Float(in.Temperature)

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &adapter.UpstreamError{Status: apiErr.StatusCode, Message: apiErr.Message}
		}
		return nil, err
	}

	text := ""
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			text = c.Message.Content
			break
		}
	}
	return json.Marshal(map[string]string{"response": text})
}

func toOpenAIMessages(msgs []adapter.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
