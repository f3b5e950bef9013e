package qwen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/providers/genai"
)

func TestSizeFor(t *testing.T) {
	cases := []struct {
		w, h int
		want string
	}{
		{1920, 1080, "1664*928"},
		{3840, 2160, "1664*928"},
		{1080, 1920, "928*1664"},
		{1000, 1000, "1328*1328"},
		{0, 0, "1664*928"},
	}
	for _, tc := range cases {
		if got := SizeFor(tc.w, tc.h); got != tc.want {
			t.Fatalf("SizeFor(%d, %d) = %q, want %q", tc.w, tc.h, got, tc.want)
		}
	}
}

func TestGenerateImageDownloadsResult(t *testing.T) {
	var gotReq task
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/services/aigc/multimodal-generation/generation":
			if r.Header.Get("Authorization") != "Bearer key" {
				t.Errorf("missing bearer token")
			}
			_ = json.NewDecoder(r.Body).Decode(&gotReq)
			_, _ = w.Write([]byte(`{"output":{"choices":[{"message":{"content":[{"image":"` + srv.URL + `/img.png"}]}}]},"usage":{"width":1664,"height":928},"request_id":"r-1"}`))
		case "/img.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := NewClient(Options{APIKey: "key", BaseURL: srv.URL, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	asset, err := client.GenerateImage(context.Background(), genai.ImageRequest{Prompt: "misty harbour at dawn", Width: 1920, Height: 1080, RequestID: "job-1-scene-1"})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if string(asset.Data) != "png-bytes" || asset.Format != "image/png" || asset.Width != 1664 {
		t.Fatalf("unexpected asset %+v", asset)
	}
	if gotReq.Parameters.Size != "1664*928" || gotReq.Model != "qwen-image-plus" {
		t.Fatalf("unexpected request %+v", gotReq)
	}
	if !strings.Contains(gotReq.Input.Messages[0].Content[0].Text, "misty harbour") {
		t.Fatalf("prompt not forwarded: %+v", gotReq.Input)
	}
}

type stubImages struct {
	calls int
}

func (s *stubImages) GenerateImage(ctx context.Context, req genai.ImageRequest) (genai.ImageAsset, error) {
	s.calls++
	return genai.ImageAsset{Format: "image/png", Data: []byte("synthetic"), Synthetic: true}, nil
}

func TestGenerateImageClassifiesAndFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"Throttling","message":"slow down"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	plain, _ := NewClient(Options{APIKey: "key", BaseURL: srv.URL, Logger: zerolog.Nop()})
	_, err := plain.GenerateImage(context.Background(), genai.ImageRequest{Prompt: "x", Width: 1280, Height: 720})
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("error = %v, want ErrTransient", err)
	}

	fb := &stubImages{}
	withFallback, _ := NewClient(Options{APIKey: "key", BaseURL: srv.URL, Fallback: fb, Logger: zerolog.Nop()})
	asset, err := withFallback.GenerateImage(context.Background(), genai.ImageRequest{Prompt: "x", Width: 1280, Height: 720})
	if err != nil || !asset.Synthetic || fb.calls != 1 {
		t.Fatalf("fallback not used: %+v %v calls=%d", asset, err, fb.calls)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Options{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("error = %v", err)
	}
}
