// Package voice synthesizes scene dialogue with ElevenLabs text-to-speech.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"vidgen/internal/domain"
	"vidgen/internal/providers"
	"vidgen/internal/providers/audio"
)

const providerName = "elevenlabs"

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_multilingual_v2"
	// Rachel, one of the stock voices.
	defaultVoice = "21m00Tcm4TlvDq8ikWAM"

	wordsPerSecond = 2.5
)

type Options struct {
	APIKey            string
	BaseURL           string
	Model             string
	DefaultVoice      string
	HTTPClient        *http.Client
	RequestsPerMinute int
	Logger            zerolog.Logger
}

// Client calls the text-to-speech endpoint. Without an API key it renders a
// tone track whose length follows the text.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	defaultVoice string
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       zerolog.Logger
}

type SpeechRequest struct {
	Text      string
	VoiceID   string
	Locale    string
	RequestID string
}

// Speech is the synthesized audio and its container format.
type Speech struct {
	Format    string
	Extension string
	Data      []byte
	Synthetic bool
}

type ttsRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	LanguageCode  string         `json:"language_code,omitempty"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      strings.TrimRight(firstNonEmpty(opts.BaseURL, defaultBaseURL), "/"),
		model:        firstNonEmpty(opts.Model, defaultModel),
		defaultVoice: firstNonEmpty(opts.DefaultVoice, defaultVoice),
		httpClient:   client,
		limiter:      limiter,
		logger:       opts.Logger,
	}
}

func (c *Client) Synthesize(ctx context.Context, req SpeechRequest) (Speech, error) {
	if err := ctx.Err(); err != nil {
		return Speech{}, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return Speech{}, fmt.Errorf("%w: empty dialogue", domain.ErrInvalidScenario)
	}
	if c.apiKey == "" {
		return synthetic(req)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Speech{}, err
		}
	}

	body, err := json.Marshal(ttsRequest{
		Text:          req.Text,
		ModelID:       c.model,
		LanguageCode:  languageCode(req.Locale),
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return Speech{}, fmt.Errorf("marshal request: %w", err)
	}
	voiceID := firstNonEmpty(req.VoiceID, c.defaultVoice)
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=mp3_44100_128", c.baseURL, url.PathEscape(voiceID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Speech{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Speech{}, providers.TransportError(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Speech{}, providers.StatusError(providerName, resp.StatusCode, string(data))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Speech{}, providers.TransportError(providerName, err)
	}
	if len(data) == 0 {
		return Speech{}, fmt.Errorf("%w: elevenlabs returned no audio", domain.ErrProviderFailure)
	}

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("voice_id", voiceID).
		Int("bytes", len(data)).
		Msg("voice: synthesized dialogue")
	return Speech{Format: "audio/mpeg", Extension: "mp3", Data: data}, nil
}

// SpeechDuration estimates how long text takes to speak.
func SpeechDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	d := time.Duration(float64(words) / wordsPerSecond * float64(time.Second))
	if d < 1500*time.Millisecond {
		return 1500 * time.Millisecond
	}
	return d
}

func synthetic(req SpeechRequest) (Speech, error) {
	samples := audio.Render(SpeechDuration(req.Text), audio.DefaultSampleRate, []audio.Tone{
		{Frequency: 196, Amplitude: 0.2},
		{Frequency: 392, Amplitude: 0.05},
	})
	var buf bytes.Buffer
	if err := audio.WriteWAV(&buf, samples, audio.DefaultSampleRate); err != nil {
		return Speech{}, err
	}
	return Speech{Format: "audio/wav", Extension: "wav", Data: buf.Bytes(), Synthetic: true}, nil
}

func languageCode(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return ""
	}
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	return strings.ToLower(locale)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
