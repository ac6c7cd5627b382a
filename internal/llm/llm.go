// Package llm talks to the generative text services used by the writer,
// title and rewrite stages.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-sonnet-4-5"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultTimeout          = 90 * time.Second
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 1 * time.Second
	defaultTemperature      = 0.7
)

// Rate limiter defaults: 50 requests per minute.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Completer turns a prompt into text. Implementations are non-deterministic;
// callers correct output with new instructions, never by blind retry.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f(ctx, prompt, maxTokens)
}

// Settings selects and configures a provider.
type Settings struct {
	Provider   string        `koanf:"provider"`
	APIKey     string        `koanf:"api_key" json:"-"`
	Model      string        `koanf:"model"`
	BaseURL    string        `koanf:"base_url"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`
	RateLimit  float64       `koanf:"rate_limit"` // requests per second
}

// New builds the Completer named by s.Provider.
func New(s Settings) (Completer, error) {
	switch s.Provider {
	case "anthropic", "":
		return NewAnthropic(s)
	case "openai":
		return NewOpenAI(s)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", s.Provider)
	}
}

// transport is the HTTP plumbing shared by every provider client.
type transport struct {
	model       string
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

func newTransport(s Settings, defaultModel, defaultBaseURL string) transport {
	t := transport{
		model:       s.Model,
		apiKey:      s.APIKey,
		baseURL:     s.BaseURL,
		maxRetries:  s.MaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
	if t.model == "" {
		t.model = defaultModel
	}
	if t.baseURL == "" {
		t.baseURL = defaultBaseURL
	}
	if t.maxRetries <= 0 {
		t.maxRetries = defaultMaxRetries
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	t.httpClient = &http.Client{Timeout: timeout}
	limit := s.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	t.limiter = rate.NewLimiter(rate.Limit(limit), defaultBurst)
	return t
}

// do waits for the limiter, then runs call with exponential backoff while it
// returns retryable errors.
func (t *transport) do(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := t.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		out, err := call(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryableError marks transport failures worth retrying: network errors,
// 429 and 5xx responses.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// statusError classifies a non-200 response.
func statusError(code int, body []byte, message string) error {
	switch {
	case code == http.StatusTooManyRequests:
		return &retryableError{err: fmt.Errorf("rate limited (429)")}
	case code >= 500:
		return &retryableError{err: fmt.Errorf("server error (%d): %s", code, truncate(string(body), 300))}
	case message != "":
		return fmt.Errorf("API error (%d): %s", code, message)
	default:
		return fmt.Errorf("API error (%d): %s", code, truncate(string(body), 300))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
