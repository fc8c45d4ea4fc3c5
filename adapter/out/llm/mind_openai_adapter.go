// Package llm implements the language-model port over the OpenAI API.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"mailmind/core/port/out"
	"mailmind/pkg/apperr"
)

// =============================================================================
// OpenAI Adapter
// =============================================================================

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 2048
	defaultTimeout   = 30 * time.Second
	retryDelay       = 2 * time.Second
)

// Config holds OpenAI adapter configuration.
type Config struct {
	APIKey     string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int
}

// Adapter implements out.LLM. Every call is constrained to JSON output;
// the caller validates the decoded shape.
type Adapter struct {
	client     *openai.Client
	model      string
	maxTokens  int
	timeout    time.Duration
	maxRetries int
	cb         *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Adapter {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	adapterLog := log.With().Str("component", "openai").Logger()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			adapterLog.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &Adapter{
		client:     openai.NewClient(cfg.APIKey),
		model:      model,
		maxTokens:  maxTokens,
		timeout:    timeout,
		maxRetries: cfg.MaxRetries,
		cb:         cb,
		log:        adapterLog,
	}
}

// Analyze runs one constrained-JSON completion. Retries once on
// transient failure, then surfaces KindLLMUnavailable.
func (a *Adapter) Analyze(ctx context.Context, req *out.AnalyzeRequest) ([]byte, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = a.timeout
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil, apperr.LLMUnavailable(ctx.Err())
			}
		}

		raw, err := a.complete(ctx, req, timeout)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !retriable(err) {
			break
		}
		a.log.Warn().Err(err).Int("attempt", attempt+1).Str("schema", req.SchemaName).
			Msg("llm call failed, retrying")
	}
	return nil, apperr.LLMUnavailable(lastErr)
}

func (a *Adapter) complete(ctx context.Context, req *out.AnalyzeRequest, timeout time.Duration) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	system := req.System
	if req.Schema != "" {
		system += "\n\nRespond with a single JSON object matching this schema:\n" + req.Schema
	}

	result, err := a.cb.Execute(func() (any, error) {
		resp, err := a.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:     a.model,
			MaxTokens: a.maxTokens,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: req.User},
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("empty completion")
		}
		return []byte(strings.TrimSpace(resp.Choices[0].Message.Content)), nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// retriable reports whether the failure is worth one more attempt.
// Auth and bad-request failures are not; timeouts and 5xx are.
func retriable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 400, 401, 403, 404:
			return false
		}
	}
	return true
}
