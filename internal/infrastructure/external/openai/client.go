package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientConfig configures the chat completion client
type ClientConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	RetryDelay        time.Duration
}

// Client wraps the OpenAI chat API with a rate limiter, per-request timeout and retries
type Client struct {
	api        *openai.Client
	model      string
	timeout    time.Duration
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewClient creates a new OpenAI client
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		model:      model,
		timeout:    timeout,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// CompleteJSON sends a system and user message and returns the JSON object content of the reply
func (c *Client) CompleteJSON(ctx context.Context, spec PromptSpec, userPrompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: spec.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying OpenAI request",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		content, err := c.complete(ctx, req)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}

	return "", lastErr
}

func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Error("OpenAI API call failed", zap.Error(err))
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}

	return resp.Choices[0].Message.Content, nil
}

var errNoChoices = errors.New("no response from OpenAI")

// retryable reports whether the request may succeed when repeated
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return errors.Is(err, errNoChoices)
}
