package script

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"vidgen/internal/domain"
	"vidgen/internal/pipeline"
	"vidgen/internal/providers"
)

const defaultGeminiModel = "gemini-2.0-flash"

type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   pipeline.ScriptGenerator
	OnFallback func(reason string, err error)
}

// GeminiWriter asks a Gemini model for the scenario through the genai SDK.
type GeminiWriter struct {
	fallbackPolicy
	client *genai.Client
	model  string
}

func NewGeminiWriter(ctx context.Context, opts GeminiOptions) (*GeminiWriter, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiWriter{
		fallbackPolicy: fallbackPolicy{fallback: opts.Fallback, onFallback: opts.OnFallback},
		client:         client,
		model:          coalesce(strings.TrimSpace(opts.Model), defaultGeminiModel),
	}, nil
}

func (g *GeminiWriter) Model() string { return g.model }

func (g *GeminiWriter) Generate(ctx context.Context, req domain.JobRequest) (domain.Scenario, error) {
	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](0.7),
		MaxOutputTokens:   4096,
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(scenarioSystemPrompt, genai.RoleUser),
	}
	contents := []*genai.Content{genai.NewContentFromText(buildScenarioPrompt(req), genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return g.useFallback(ctx, req, "api_call", classifyGeminiError(err))
	}

	var text strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part != nil && part.Text != "" {
					text.WriteString(part.Text)
				}
			}
			if text.Len() > 0 {
				break
			}
		}
	}
	if text.Len() == 0 {
		return g.useFallback(ctx, req, "empty_content", errors.Join(domain.ErrProviderFailure, errors.New("gemini returned no text")))
	}
	scenario, err := finishScenario(req, text.String())
	if err != nil {
		return g.useFallback(ctx, req, "parse_payload", err)
	}
	return scenario, nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return providers.StatusError(geminiProviderName, apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return providers.StatusError(geminiProviderName, apiErrPtr.Code, apiErrPtr.Message)
	}
	return providers.TransportError(geminiProviderName, err)
}
