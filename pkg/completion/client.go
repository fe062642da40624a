// Package completion sends prompts to an OpenAI-style chat-completions
// endpoint. Each call is exactly one HTTP request; retrying is left to the
// caller.
package completion

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client sends one system + user prompt pair and returns the generated text.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, timeout time.Duration) (string, error)
}

// Config holds the connection settings for the endpoint. Token is a bearer
// credential: it is sent in the Authorization header and nowhere else.
type Config struct {
	BaseURL     string
	Token       string
	Model       string
	MaxTokens   int64
	Temperature float64
	HTTPClient  *http.Client
	Limiter     *AdaptiveLimiter
}

// String omits the token so a Config can be logged safely.
func (c Config) String() string {
	return "completion.Config{BaseURL: " + c.BaseURL + ", Model: " + c.Model + "}"
}

type openaiClient struct {
	sdk       openai.Client
	model     string
	maxTokens int64
	temp      float64
	limiter   *AdaptiveLimiter
	now       func() time.Time
}

// New creates a Client for the configured endpoint. The SDK's own retries
// are disabled.
func New(cfg Config) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, eris.New("completion: base URL is required")
	}
	if cfg.Token == "" {
		return nil, eris.New("completion: token is required")
	}
	if cfg.Model == "" {
		return nil, eris.New("completion: model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}

	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.Token),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &openaiClient{
		sdk:       openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		temp:      cfg.Temperature,
		limiter:   cfg.Limiter,
		now:       time.Now,
	}, nil
}

func (c *openaiClient) Complete(ctx context.Context, systemPrompt, userPrompt string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return "", eris.New("completion: timeout must be positive")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", eris.Wrap(err, "completion: wait for rate limiter")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(c.temp),
	}

	start := c.now()
	resp, err := c.sdk.Chat.Completions.New(callCtx, params, option.WithRequestTimeout(timeout))
	if err != nil {
		return "", c.mapError(ctx, callCtx, err)
	}
	if c.limiter != nil {
		c.limiter.OnSuccess()
	}

	zap.L().Debug("completion: response",
		zap.String("model", c.model),
		zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("latency", c.now().Sub(start)),
	)

	if len(resp.Choices) == 0 {
		return "", nil
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		zap.L().Warn("completion: output truncated at max_tokens",
			zap.String("model", c.model),
			zap.Int64("max_tokens", c.maxTokens),
		)
	}
	return choice.Message.Content, nil
}

// mapError turns an SDK failure into an UpstreamError (the server answered)
// or a NetworkError (it did not). Cancellation of the caller's context is
// returned as is.
func (c *openaiClient) mapError(parent, callCtx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		upstream := &UpstreamError{Status: apiErr.StatusCode, Err: err}
		if apiErr.Response != nil {
			upstream.RetryAfter = ParseRetryAfter(apiErr.Response.Header, c.now())
		}
		if apiErr.StatusCode == http.StatusTooManyRequests && c.limiter != nil {
			c.limiter.OnRateLimit()
		}
		return upstream
	}

	if parent.Err() != nil {
		return eris.Wrap(parent.Err(), "completion: cancelled")
	}
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		timedOut = true
	}
	return NewNetworkError(err, timedOut)
}
