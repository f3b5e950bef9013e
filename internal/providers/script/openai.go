package script

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

	"vidgen/internal/domain"
	"vidgen/internal/pipeline"
	"vidgen/internal/providers"
)

const (
	defaultOpenAIModel   = "gpt-4o"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// openAIModels maps normalized spellings onto the chat models the writer is
// tuned for. Entries marked alias are accepted with a warning.
var openAIModels = map[string]struct {
	model string
	alias bool
}{
	"gpt-4":                  {"gpt-4", false},
	"gpt-4o":                 {"gpt-4o", false},
	"gpt-4o-mini":            {"gpt-4o-mini", false},
	"gpt4":                   {"gpt-4", true},
	"gpt-4-turbo":            {"gpt-4", true},
	"gpt4o":                  {"gpt-4o", true},
	"gpt-4o-2024-08-06":      {"gpt-4o", true},
	"gpt4o-mini":             {"gpt-4o-mini", true},
	"gpt4omini":              {"gpt-4o-mini", true},
	"gpt-4o-mini-2024-07-18": {"gpt-4o-mini", true},
}

const scenarioSystemPrompt = `You are an expert video scriptwriter. Respond only with JSON matching this schema:
{"title":string,"scenes":[{"scene_number":int,"duration":number,"description":string,"visual_elements":string[],"dialogue":string,"camera_angle":string,"lighting":string}]}
Scene numbers start at 1 and increase by one. Scene durations are in seconds.`

type OpenAIOptions struct {
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
	// Fallback, when set, answers instead of failing the phase.
	Fallback   pipeline.ScriptGenerator
	OnFallback func(reason string, err error)
	// OnWarning reports a model name that was rewritten.
	OnWarning func(reason, detail string)
}

// OpenAIWriter asks the chat completions endpoint for a JSON scenario.
type OpenAIWriter struct {
	fallbackPolicy
	key   string
	org   string
	model string
	url   string
	http  *http.Client
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func NewOpenAIWriter(opts OpenAIOptions) (*OpenAIWriter, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, errors.New("openai api key is required")
	}
	requested := strings.TrimSpace(opts.Model)
	model, reason := normalizeOpenAIModel(requested)
	if reason != "" && opts.OnWarning != nil {
		opts.OnWarning("model_"+reason, fmt.Sprintf("requested=%s resolved=%s", requested, model))
	}
	w := &OpenAIWriter{
		fallbackPolicy: fallbackPolicy{fallback: opts.Fallback, onFallback: opts.OnFallback},
		key:            key,
		org:            strings.TrimSpace(opts.Organization),
		model:          model,
		url:            strings.TrimRight(coalesce(strings.TrimSpace(opts.BaseURL), defaultOpenAIBaseURL), "/") + "/chat/completions",
		http:           opts.HTTPClient,
	}
	if w.http == nil {
		w.http = &http.Client{Timeout: 90 * time.Second}
	}
	return w, nil
}

func (o *OpenAIWriter) Model() string { return o.model }

func (o *OpenAIWriter) Generate(ctx context.Context, req domain.JobRequest) (domain.Scenario, error) {
	reply, reason, err := o.complete(ctx, chatRequest{
		Model:          o.model,
		Temperature:    0.7,
		MaxTokens:      2000,
		ResponseFormat: &chatFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: scenarioSystemPrompt},
			{Role: "user", Content: buildScenarioPrompt(req)},
		},
	})
	if err != nil {
		return o.useFallback(ctx, req, reason, err)
	}
	scenario, err := finishScenario(req, reply)
	if err != nil {
		return o.useFallback(ctx, req, "parse_payload", err)
	}
	return scenario, nil
}

// complete returns the first choice's content, or a short reason tag and a
// classified error.
func (o *OpenAIWriter) complete(ctx context.Context, body chatRequest) (string, string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", "encode_request", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(raw))
	if err != nil {
		return "", "build_request", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.key)
	if o.org != "" {
		httpReq.Header.Set("OpenAI-Organization", o.org)
	}

	resp, err := o.http.Do(httpReq)
	if err != nil {
		return "", "http_request", providers.TransportError(openAIProviderName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Sprintf("http_%d", resp.StatusCode), providers.StatusError(openAIProviderName, resp.StatusCode, string(msg))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "decode_response", fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	if len(out.Choices) == 0 {
		return "", "empty_choices", fmt.Errorf("%w: no choices", domain.ErrProviderFailure)
	}
	return out.Choices[0].Message.Content, "", nil
}

// normalizeOpenAIModel resolves a configured model name. The second result is
// "alias" for a known alternative spelling, "defaulted" for an unknown model
// and empty otherwise.
func normalizeOpenAIModel(name string) (string, string) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return defaultOpenAIModel, ""
	}
	key = strings.NewReplacer("_", "-", " ", "-").Replace(key)
	entry, ok := openAIModels[key]
	switch {
	case !ok:
		return defaultOpenAIModel, "defaulted"
	case entry.alias:
		return entry.model, "alias"
	default:
		return entry.model, ""
	}
}
