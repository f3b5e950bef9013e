package script

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"vidgen/internal/domain"
)

const modelScenario = `{"title":"Dawn","scenes":[{"scene_number":1,"duration":12.5,"description":"a"},{"scene_number":2,"duration":12.5,"description":"b","dialogue":"hi"}]}`

type fakeMessages struct {
	params anthropic.MessageNewParams
	resp   *anthropic.Message
	err    error
}

func (f *fakeMessages) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.params = params
	return f.resp, f.err
}

func TestClaudeWriterGenerates(t *testing.T) {
	fake := &fakeMessages{resp: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "```json\n" + modelScenario + "\n```"}},
	}}
	writer := &ClaudeWriter{messages: fake, model: defaultClaudeModel, maxTokens: 1000}

	scenario, err := writer.Generate(context.Background(), jobRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if scenario.Title != "Dawn" || len(scenario.Scenes) != 2 {
		t.Fatalf("unexpected scenario %+v", scenario)
	}
	if string(fake.params.Model) != defaultClaudeModel || fake.params.MaxTokens != 1000 || len(fake.params.System) != 1 {
		t.Fatalf("unexpected params %+v", fake.params)
	}
}

func TestClaudeWriterEmptyReplyFallsBack(t *testing.T) {
	var reason string
	writer := &ClaudeWriter{
		fallbackPolicy: fallbackPolicy{fallback: NewStaticWriter(), onFallback: func(r string, err error) { reason = r }},
		messages:       &fakeMessages{resp: &anthropic.Message{}},
		model:          defaultClaudeModel,
		maxTokens:      1000,
	}
	scenario, err := writer.Generate(context.Background(), jobRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reason != "empty_content" || len(scenario.Scenes) == 0 {
		t.Fatalf("fallback not used: reason=%q", reason)
	}
}

func TestClaudeWriterClassifiesHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	writer, err := NewClaudeWriter(ClaudeOptions{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewClaudeWriter: %v", err)
	}
	_, err = writer.Generate(context.Background(), jobRequest())
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestClaudeWriterPassesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	writer := &ClaudeWriter{
		fallbackPolicy: fallbackPolicy{fallback: NewStaticWriter()},
		messages:       &fakeMessages{err: context.Canceled},
		model:          defaultClaudeModel,
	}
	if _, err := writer.Generate(ctx, jobRequest()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestGeminiWriterGenerates(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, defaultGeminiModel+":generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": modelScenario}}},
			}},
		})
	}))
	defer srv.Close()

	writer, err := NewGeminiWriter(context.Background(), GeminiOptions{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewGeminiWriter: %v", err)
	}
	scenario, err := writer.Generate(context.Background(), jobRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if scenario.Title != "Dawn" || len(scenario.Scenes) != 2 {
		t.Fatalf("unexpected scenario %+v", scenario)
	}
	if body["contents"] == nil {
		t.Fatalf("request carried no contents: %v", body)
	}
}

func TestGeminiWriterUnavailableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
	}))
	defer srv.Close()

	writer, err := NewGeminiWriter(context.Background(), GeminiOptions{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewGeminiWriter: %v", err)
	}
	if _, err := writer.Generate(context.Background(), jobRequest()); !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestSDKWritersRequireKeys(t *testing.T) {
	if _, err := NewClaudeWriter(ClaudeOptions{}); err == nil {
		t.Fatalf("claude: expected error")
	}
	if _, err := NewGeminiWriter(context.Background(), GeminiOptions{}); err == nil {
		t.Fatalf("gemini: expected error")
	}
}
