// Package ai implements the generation-step collaborator: given a phase
// prompt it returns structured artifact content, with retry, circuit
// breaking, concurrency capping, and rate limiting around the API.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// ModelSonnet is the high-end model for generation tasks
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient model for simple tasks
	ModelHaiku = "claude-3-5-haiku-20241022"
)

// GetDefaultModel returns the default model, checking PLANWRIGHT_MODEL first
func GetDefaultModel() string {
	if model := os.Getenv("PLANWRIGHT_MODEL"); model != "" {
		return model
	}
	return ModelSonnet
}

// Generator is the generation step invoked by the pipeline. Implementations
// return structured JSON content or fail with a recoverable error.
type Generator interface {
	Generate(ctx context.Context, prompt string) (json.RawMessage, error)
}

// Config holds generation client configuration
type Config struct {
	APIKey    string // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model     string // Model to use (default: claude-sonnet-4-5-20250929)
	MaxTokens int    // Response token budget (default: 8192)
	Retry     RetryConfig
}

// Client is the Anthropic-backed Generator
type Client struct {
	client         *anthropic.Client
	model          string
	maxTokens      int64
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
	limiter        *rate.Limiter
}

// NewClient creates a generation client
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	c := &Client{
		client:    &client,
		model:     model,
		maxTokens: int64(maxTokens),
		retry:     retry,
	}
	if retry.CircuitBreakerEnabled {
		c.circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}
	if retry.MaxConcurrentCalls > 0 {
		c.concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}
	if retry.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(retry.RequestsPerMinute)/60.0), retry.RequestsPerMinute)
	}
	return c, nil
}

// Generate sends the prompt and returns the model's JSON content. The raw
// response is normalized through ExtractJSON so code fences and surrounding
// prose do not leak into stored artifacts.
func (c *Client) Generate(ctx context.Context, prompt string) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait canceled: %w", err)
		}
	}

	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, "generate", func(attemptCtx context.Context) error {
		resp, apiErr := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: c.maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	content, err := ExtractJSON(text)
	if err != nil {
		return nil, fmt.Errorf("model response is not valid JSON: %w", err)
	}
	return content, nil
}
