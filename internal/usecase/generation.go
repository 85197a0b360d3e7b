package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"incident-assistant/internal/domain/ports/adapter"
	derror "incident-assistant/internal/error"
	"incident-assistant/internal/infra/logging"
	"incident-assistant/internal/infra/metrics"
)

const generationSystemMessage = "You are an incident analysis assistant. Follow the requested output format exactly."

// GenerationOptions configures one GenerationClient. Zero values fall back to defaults.
type GenerationOptions struct {
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	BackoffStep time.Duration
	MaxTokens   int
	Temperature float64
}

func (o GenerationOptions) withDefaults() GenerationOptions {
	if o.Model == "" {
		o.Model = "@cf/meta/llama-3.3-70b-instruct-fp8-fast"
	}
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffStep <= 0 {
		o.BackoffStep = 250 * time.Millisecond
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1024
	}
	return o
}

// GenerationClient wraps the generation call with a hard timeout, error
// classification and linear-backoff retries.
type GenerationClient struct {
	ai    adapter.AIServiceAdapter
	opts  GenerationOptions
	log   *zerolog.Logger
	sleep func(time.Duration)
}

func NewGenerationClient(ai adapter.AIServiceAdapter, opts GenerationOptions, logger *zerolog.Logger) *GenerationClient {
	genLog := logger.With().Str("component", "GenerationClient").Logger()
	return &GenerationClient{
		ai:    ai,
		opts:  opts.withDefaults(),
		log:   &genLog,
		sleep: time.Sleep,
	}
}

func (g *GenerationClient) Model() string { return g.opts.Model }

// Generate returns the model's reply for prompt. Every failure is a *derror.ClassifiedError;
// after the retry budget is spent the last classification is returned.
func (g *GenerationClient) Generate(ctx context.Context, prompt string) (string, error) {
	l := logging.With(ctx, g.log)
	defer logging.TraceDuration(l, "GenerationClient.Generate")()

	var last *derror.ClassifiedError
	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		text, cerr := g.attempt(ctx, prompt)
		metrics.IncAIAttempt(g.ai.Provider(), codeLabel(cerr))
		if cerr == nil {
			return text, nil
		}
		last = cerr

		l.Error().
			Str("code", string(cerr.Code)).
			Int("status", cerr.HTTPStatus).
			Bool("retryable", cerr.Retryable).
			Int("attempt", attempt).
			Str("error", cerr.Message).
			Msg("ai_call_failed")

		if !cerr.Retryable || attempt >= g.opts.MaxAttempts {
			break
		}
		delay := g.opts.BackoffStep * time.Duration(attempt)
		l.Warn().Int("next_attempt", attempt+1).Dur("delay", delay).Msg("ai_call_retry")
		g.sleep(delay)
	}
	return "", last
}

type runResult struct {
	body []byte
	err  error
}

// attempt performs one call. On timeout only the wait is abandoned; a call in
// flight keeps running with a context detached from the caller's cancellation,
// while a call still queued behind the concurrency cap is dropped.
func (g *GenerationClient) attempt(ctx context.Context, prompt string) (string, *derror.ClassifiedError) {
	in := adapter.GenerationInput{
		Messages: []adapter.Message{
			{Role: "system", Content: generationSystemMessage},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	}

	done := make(chan runResult, 1)
	abandon := make(chan struct{})
	callCtx := adapter.WithAbandon(context.WithoutCancel(ctx), abandon)
	start := time.Now()
	go func() {
		body, err := g.ai.Run(callCtx, g.opts.Model, in)
		done <- runResult{body: body, err: err}
	}()

	timer := time.NewTimer(g.opts.Timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		latency := int(time.Since(start).Milliseconds())
		if res.err != nil {
			metrics.ObserveAICall(g.ai.Provider(), g.opts.Model, latency, false)
			return "", derror.Classify(res.err)
		}
		text := extractResponseText(res.body)
		metrics.ObserveAICall(g.ai.Provider(), g.opts.Model, latency, text != "")
		if text == "" {
			return "", derror.EmptyResponse()
		}
		return text, nil
	case <-timer.C:
		close(abandon)
		metrics.ObserveAICall(g.ai.Provider(), g.opts.Model, int(g.opts.Timeout.Milliseconds()), false)
		return "", derror.Timeout(g.opts.Timeout.String())
	}
}

// extractResponseText accepts a bare JSON string, {"response": ...} or
// {"result": {"response": ...}} and returns the first non-empty match.
func extractResponseText(raw []byte) string {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return ""
	}
	res := gjson.ParseBytes(raw)
	if res.Type == gjson.String {
		return strings.TrimSpace(res.Str)
	}
	if !res.IsObject() {
		return ""
	}
	for _, path := range []string{"response", "result.response"} {
		v := res.Get(path)
		if v.Type != gjson.String {
			continue
		}
		if text := strings.TrimSpace(v.Str); text != "" {
			return text
		}
	}
	return ""
}

func codeLabel(cerr *derror.ClassifiedError) string {
	if cerr == nil {
		return "ok"
	}
	return string(cerr.Code)
}
