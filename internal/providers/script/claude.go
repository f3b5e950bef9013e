package script

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"vidgen/internal/domain"
	"vidgen/internal/pipeline"
	"vidgen/internal/providers"
)

const (
	defaultClaudeModel     = "claude-sonnet-4-20250514"
	defaultClaudeMaxTokens = 4096
)

type ClaudeOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	MaxRetries int
	HTTPClient *http.Client
	Fallback   pipeline.ScriptGenerator
	OnFallback func(reason string, err error)
}

type messageCreator interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// ClaudeWriter asks an Anthropic model for the scenario.
type ClaudeWriter struct {
	fallbackPolicy
	messages  messageCreator
	model     string
	maxTokens int
}

func NewClaudeWriter(opts ClaudeOptions) (*ClaudeWriter, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(max(opts.MaxRetries, 0)),
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	client := anthropic.NewClient(reqOpts...)

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}
	return &ClaudeWriter{
		fallbackPolicy: fallbackPolicy{fallback: opts.Fallback, onFallback: opts.OnFallback},
		messages:       &client.Messages,
		model:          coalesce(strings.TrimSpace(opts.Model), defaultClaudeModel),
		maxTokens:      maxTokens,
	}, nil
}

func (c *ClaudeWriter) Model() string { return c.model }

func (c *ClaudeWriter) Generate(ctx context.Context, req domain.JobRequest) (domain.Scenario, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(c.maxTokens),
		Temperature: anthropic.Float(0.7),
		System:      []anthropic.TextBlockParam{{Text: scenarioSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildScenarioPrompt(req))),
		},
	}
	resp, err := c.messages.New(ctx, params)
	if err != nil {
		return c.useFallback(ctx, req, "api_call", classifyClaudeError(err))
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return c.useFallback(ctx, req, "empty_content", errors.Join(domain.ErrProviderFailure, errors.New("claude returned no text")))
	}
	scenario, err := finishScenario(req, text.String())
	if err != nil {
		return c.useFallback(ctx, req, "parse_payload", err)
	}
	return scenario, nil
}

func classifyClaudeError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return providers.StatusError(claudeProviderName, apiErr.StatusCode, apiErr.Error())
	}
	return providers.TransportError(claudeProviderName, err)
}
