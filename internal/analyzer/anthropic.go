package analyzer

import (
	"context"
	"strings"
	"time"

	scanerrors "scanpilot/pkg/errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 1500
)

type AnthropicConfig struct {
	APIKey            string
	Model             string
	MaxTokens         int64
	RequestsPerMinute int
}

// AnthropicSummarizer calls the Messages API. Requests are paced by a token
// bucket so a burst of finishing scans does not trip the provider's limits.
type AnthropicSummarizer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
}

func NewAnthropicSummarizer(cfg AnthropicConfig) (*AnthropicSummarizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, scanerrors.NewConfigError("analyzer.api_key", "", "ANTHROPIC_API_KEY is not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &AnthropicSummarizer{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		limiter:   limiter,
	}, nil
}

func (s *AnthropicSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", scanerrors.Unreachable("rate limiter", err)
	}

	message, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: s.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", scanerrors.Unreachable("messages API call failed", err)
	}

	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", scanerrors.Malformed("model returned no text content")
	}
	return b.String(), nil
}

// UnconfiguredSummarizer stands in when no API key is available, so scans
// still run and fail with an explicit reason.
type UnconfiguredSummarizer struct{}

func (UnconfiguredSummarizer) Summarize(context.Context, string) (string, error) {
	return "", scanerrors.Unreachable("summarization service not configured (set ANTHROPIC_API_KEY)", nil)
}
