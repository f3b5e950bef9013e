// Package qwen renders scene backgrounds with the DashScope Qwen text-to-image
// API. It speaks the same image contract as the Gemini client so either can
// back the asset generator.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"vidgen/internal/domain"
	"vidgen/internal/providers"
	"vidgen/internal/providers/genai"
)

const (
	providerName   = "qwen"
	dashscopeURL   = "https://dashscope-intl.aliyuncs.com/api/v1"
	generationPath = "/services/aigc/multimodal-generation/generation"
	defaultModel   = "qwen-image-plus"
	maxDownload    = 32 << 20
)

var ErrMissingAPIKey = errors.New("qwen: api key is required")

// ImageGenerator is the contract shared with the Gemini client.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req genai.ImageRequest) (genai.ImageAsset, error)
}

type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	NegativePrompt string
	PromptExtend   bool
	Watermark      bool
	HTTPClient     *http.Client
	// RequestsPerMinute throttles remote calls; zero disables throttling.
	RequestsPerMinute int
	// Fallback answers when the remote call fails for a reason other than
	// cancellation.
	Fallback ImageGenerator
	Logger   zerolog.Logger
}

// Client submits synchronous generation calls and downloads the resulting
// image from the signed URL DashScope returns.
type Client struct {
	key      string
	url      string
	model    string
	params   taskParams
	http     *http.Client
	limiter  *rate.Limiter
	fallback ImageGenerator
	log      zerolog.Logger
}

type task struct {
	Model      string     `json:"model"`
	Input      taskInput  `json:"input"`
	Parameters taskParams `json:"parameters"`
}

type taskInput struct {
	Messages []turn `json:"messages"`
}

type turn struct {
	Role    string    `json:"role"`
	Content []segment `json:"content"`
}

// segment carries text on the way in and an image URL on the way out.
type segment struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type taskParams struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	PromptExtend   bool   `json:"prompt_extend"`
	Watermark      bool   `json:"watermark"`
}

type taskResult struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Output    struct {
		Choices []struct {
			Message turn `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"usage"`
}

func NewClient(opts Options) (*Client, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		key:   key,
		url:   dashscopeURL,
		model: defaultModel,
		params: taskParams{
			NegativePrompt: strings.TrimSpace(opts.NegativePrompt),
			PromptExtend:   opts.PromptExtend,
			Watermark:      opts.Watermark,
		},
		http:     opts.HTTPClient,
		fallback: opts.Fallback,
		log:      opts.Logger,
	}
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		c.url = base
	}
	if model := strings.TrimSpace(opts.Model); model != "" {
		c.model = model
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 90 * time.Second}
	}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return c, nil
}

func (c *Client) Model() string { return c.model }

// GenerateImage renders one background for req.
func (c *Client) GenerateImage(ctx context.Context, req genai.ImageRequest) (genai.ImageAsset, error) {
	asset, err := c.generate(ctx, req)
	switch {
	case err == nil:
		return asset, nil
	case c.fallback == nil, ctx.Err() != nil:
		return genai.ImageAsset{}, err
	}
	c.log.Warn().Err(err).Str("model", c.model).Str("request_id", req.RequestID).
		Msg("qwen: image call failed, using fallback")
	return c.fallback.GenerateImage(ctx, req)
}

func (c *Client) generate(ctx context.Context, req genai.ImageRequest) (genai.ImageAsset, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return genai.ImageAsset{}, fmt.Errorf("%w: qwen prompt is empty", domain.ErrProviderFailure)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return genai.ImageAsset{}, err
		}
	}

	params := c.params
	params.Size = SizeFor(req.Width, req.Height)
	result, err := c.submit(ctx, task{
		Model:      c.model,
		Input:      taskInput{Messages: []turn{{Role: "user", Content: []segment{{Text: prompt}}}}},
		Parameters: params,
	})
	if err != nil {
		return genai.ImageAsset{}, err
	}
	link := result.imageURL()
	if link == "" {
		return genai.ImageAsset{}, fmt.Errorf("%w: qwen returned no image", domain.ErrProviderFailure)
	}

	data, mime, err := c.fetch(ctx, link)
	if err != nil {
		return genai.ImageAsset{}, err
	}
	asset := genai.ImageAsset{Format: mime, Width: result.Usage.Width, Height: result.Usage.Height, Data: data}
	if asset.Width == 0 || asset.Height == 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			asset.Width, asset.Height = cfg.Width, cfg.Height
		}
	}
	c.log.Debug().Str("request_id", req.RequestID).Str("dashscope_request_id", result.RequestID).
		Int("bytes", len(data)).Msg("qwen: image received")
	return asset, nil
}

func (c *Client) submit(ctx context.Context, body task) (taskResult, error) {
	var result taskResult
	raw, err := json.Marshal(body)
	if err != nil {
		return result, fmt.Errorf("encode qwen request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+generationPath, bytes.NewReader(raw))
	if err != nil {
		return result, fmt.Errorf("build qwen request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return result, providers.TransportError(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return result, providers.StatusError(providerName, resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("%w: decode qwen response: %v", domain.ErrProviderFailure, err)
	}
	if result.Code != "" {
		return result, fmt.Errorf("%w: qwen %s: %s", domain.ErrProviderFailure, result.Code, result.Message)
	}
	return result, nil
}

func (c *Client) fetch(ctx context.Context, link string) ([]byte, string, error) {
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return nil, "", fmt.Errorf("%w: qwen image url %q", domain.ErrProviderFailure, link)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build qwen download: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, "", providers.TransportError(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", providers.StatusError(providerName, resp.StatusCode, "image download")
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, "", providers.TransportError(providerName, err)
	}
	mime := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	return data, mime, nil
}

func (r taskResult) imageURL() string {
	for _, choice := range r.Output.Choices {
		for _, seg := range choice.Message.Content {
			if link := strings.TrimSpace(seg.Image); link != "" {
				return link
			}
		}
	}
	return ""
}

// sizes are the output sizes the qwen-image models accept.
var sizes = [][2]int{
	{1664, 928},
	{1472, 1140},
	{1328, 1328},
	{1140, 1472},
	{928, 1664},
}

// SizeFor picks the supported size whose aspect ratio is closest to w:h.
func SizeFor(w, h int) string {
	if w <= 0 || h <= 0 {
		w, h = 16, 9
	}
	want := float64(w) / float64(h)
	best, bestDiff := sizes[0], -1.0
	for _, s := range sizes {
		diff := float64(s[0])/float64(s[1]) - want
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = s, diff
		}
	}
	return fmt.Sprintf("%d*%d", best[0], best[1])
}
