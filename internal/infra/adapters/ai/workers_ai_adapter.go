package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"incident-assistant/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.AIServiceAdapter = (*WorkersAIAdapter)(nil)

const defaultWorkersAIBase = "https://api.cloudflare.com/client/v4"

// WorkersAIAdapter calls the Cloudflare Workers AI REST endpoint:
// POST {base}/accounts/{account}/ai/run/{model}
// Authorization: Bearer <API token>
// The body of a 2xx reply is returned as-is ({"result":{"response":...},"success":true}).
type WorkersAIAdapter struct {
	apiKey    string
	accountID string
	base      string
	client    *http.Client
}

func NewWorkersAIAdapter(apiKey, accountID, base string) (*WorkersAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("workers ai api key empty")
	}
	if accountID == "" {
		return nil, errors.New("workers ai account id empty")
	}
	if base == "" {
		base = defaultWorkersAIBase
	}
	return &WorkersAIAdapter{
		apiKey:    apiKey,
		accountID: accountID,
		base:      strings.TrimRight(base, "/"),
		// the generation client enforces its own per-attempt deadline
		client: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (a *WorkersAIAdapter) Provider() string { return "workers_ai" }

func (a *WorkersAIAdapter) Run(ctx context.Context, model string, in adapter.GenerationInput) ([]byte, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s", a.base, a.accountID, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &adapter.UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(body)}
	}
	return body, nil
}

// upstreamMessage pulls the first error message out of a Cloudflare error envelope.
func upstreamMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "errors.0.message"); msg.Exists() {
			return msg.String()
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
