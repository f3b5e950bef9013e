// Package genai generates scene backgrounds with the Gemini image model.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"vidgen/internal/domain"
	"vidgen/internal/providers"
)

const (
	providerName   = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash-image"
	maxImageBytes  = 32 << 20
)

type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	// RequestsPerMinute throttles remote calls; zero disables throttling.
	RequestsPerMinute int
	// SyntheticFallback renders a placeholder when the remote call fails.
	// Without a key the client always renders placeholders.
	SyntheticFallback bool
	Logger            zerolog.Logger
}

// Client renders backgrounds through the generateContent endpoint with the
// IMAGE response modality.
type Client struct {
	apiKey    string
	endpoint  string
	model     string
	http      *http.Client
	limiter   *rate.Limiter
	synthetic bool
	logger    zerolog.Logger
}

// ImageRequest describes one background still.
type ImageRequest struct {
	Prompt    string
	Width     int
	Height    int
	RequestID string
}

// ImageAsset is an encoded still and its pixel size.
type ImageAsset struct {
	Format    string
	Width     int
	Height    int
	Data      []byte
	Synthetic bool
}

type generateRequest struct {
	Contents []content        `json:"contents"`
	Config   *generatorConfig `json:"generationConfig,omitempty"`
}

type generatorConfig struct {
	CandidateCount int          `json:"candidateCount,omitempty"`
	Modalities     []string     `json:"responseModalities,omitempty"`
	Image          *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts,omitempty"`
}

type part struct {
	Text   string      `json:"text,omitempty"`
	Inline *inlineBlob `json:"inlineData,omitempty"`
	File   *fileRef    `json:"fileData,omitempty"`
}

type inlineBlob struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type fileRef struct {
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"fileUri,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey:    strings.TrimSpace(opts.APIKey),
		endpoint:  base,
		model:     model,
		http:      httpClient,
		limiter:   limiter,
		synthetic: opts.SyntheticFallback,
		logger:    opts.Logger,
	}, nil
}

func (c *Client) Model() string { return c.model }

// GenerateImage returns one still for req. Without an API key a deterministic
// placeholder is rendered instead.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (ImageAsset, error) {
	if err := ctx.Err(); err != nil {
		return ImageAsset{}, err
	}
	if c.apiKey == "" {
		return placeholder(req)
	}
	asset, err := c.remote(ctx, req)
	if err == nil {
		return asset, nil
	}
	if !c.synthetic || ctx.Err() != nil {
		return ImageAsset{}, err
	}
	c.logger.Warn().Err(err).Str("request_id", req.RequestID).Msg("genai: image call failed, rendering placeholder")
	return placeholder(req)
}

func (c *Client) remote(ctx context.Context, req ImageRequest) (ImageAsset, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return ImageAsset{}, err
		}
	}
	width, height := frameSize(req.Width, req.Height)
	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: imagePrompt(req.Prompt)}}}},
		Config: &generatorConfig{
			CandidateCount: 1,
			Modalities:     []string{"IMAGE"},
			Image:          &imageConfig{AspectRatio: aspectRatio(width, height)},
		},
	}
	var out generateResponse
	path := "/models/" + url.PathEscape(c.model) + ":generateContent"
	if err := c.post(ctx, path, body, &out); err != nil {
		return ImageAsset{}, err
	}

	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			data, mime, err := c.partBytes(ctx, p)
			if err != nil {
				c.logger.Debug().Err(err).Str("request_id", req.RequestID).Msg("genai: skipping unreadable part")
				continue
			}
			if len(data) == 0 {
				continue
			}
			w, h := width, height
			if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
				w, h = cfg.Width, cfg.Height
			}
			if mime == "" {
				mime = "image/png"
			}
			c.logger.Debug().Str("request_id", req.RequestID).Int("bytes", len(data)).Msg("genai: image received")
			return ImageAsset{Format: mime, Width: w, Height: h, Data: data}, nil
		}
	}
	return ImageAsset{}, fmt.Errorf("%w: gemini returned no image content", domain.ErrProviderFailure)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode gemini request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return providers.TransportError(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode gemini response: %v", domain.ErrProviderFailure, err)
	}
	return nil
}

// partBytes returns the image carried by p, inline or behind a file URI.
func (c *Client) partBytes(ctx context.Context, p part) ([]byte, string, error) {
	switch {
	case p.Inline != nil && p.Inline.Data != "":
		data, err := base64.StdEncoding.DecodeString(p.Inline.Data)
		if err != nil {
			return nil, "", fmt.Errorf("inline image: %w", err)
		}
		return data, p.Inline.MimeType, nil
	case p.File != nil && p.File.URI != "":
		data, mime, err := c.fetch(ctx, p.File.URI)
		if err != nil {
			return nil, "", err
		}
		if p.File.MimeType != "" {
			mime = p.File.MimeType
		}
		return data, mime, nil
	}
	return nil, "", nil
}

func (c *Client) fetch(ctx context.Context, uri string) ([]byte, string, error) {
	target := uri
	if !strings.Contains(uri, "://") {
		target = c.endpoint + "/" + strings.TrimLeft(uri, "/")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, "", providers.TransportError(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", statusError(resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", providers.TransportError(providerName, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// statusError prefers the message of a Google API error body.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body apiError
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		return providers.StatusError(providerName, resp.StatusCode, body.Error.Message)
	}
	return providers.StatusError(providerName, resp.StatusCode, string(raw))
}

func imagePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = "A cinematic establishing shot"
	}
	return prompt + "\nRender a single full-frame background still. No text, captions or watermarks."
}

func frameSize(width, height int) (int, int) {
	if width <= 0 || height <= 0 {
		return 1920, 1080
	}
	return width, height
}

// aspectRatio reduces the frame size to the ratios the image model accepts.
func aspectRatio(width, height int) string {
	switch r := float64(width) / float64(height); {
	case r > 1.5:
		return "16:9"
	case r > 1.1:
		return "4:3"
	case r < 0.67:
		return "9:16"
	case r < 0.9:
		return "3:4"
	default:
		return "1:1"
	}
}
