package assets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/pipeline"
	"vidgen/internal/providers/genai"
	"vidgen/internal/providers/music"
	"vidgen/internal/providers/voice"
)

func newGenerator(t *testing.T) *Generator {
	t.Helper()
	images, err := genai.NewClient(genai.Options{})
	if err != nil {
		t.Fatalf("genai.NewClient: %v", err)
	}
	return NewGenerator(images, voice.NewClient(voice.Options{Logger: zerolog.Nop()}), music.NewGenerator(), zerolog.Nop())
}

func TestGeneratorWritesSceneFiles(t *testing.T) {
	dir := t.TempDir()
	g := newGenerator(t)
	ctx := context.Background()
	scene := domain.Scene{Number: 2, Description: "a lake", Dialogue: "hello there"}

	bg, err := g.Image(ctx, pipeline.ImageRequest{JobID: "v1", Scene: scene, Size: domain.Dimensions{Width: 64, Height: 36}, Dir: dir})
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	if filepath.Base(string(bg)) != "background_002.png" {
		t.Fatalf("unexpected background path %s", bg)
	}

	vo, err := g.Voice(ctx, pipeline.VoiceRequest{JobID: "v1", Scene: 2, Text: scene.Dialogue, Dir: dir})
	if err != nil {
		t.Fatalf("Voice: %v", err)
	}
	if filepath.Base(string(vo)) != "voice_002.wav" {
		t.Fatalf("unexpected voice path %s", vo)
	}

	mu, err := g.Music(ctx, pipeline.MusicRequest{JobID: "v1", Style: "upbeat", Duration: time.Second, Dir: dir})
	if err != nil {
		t.Fatalf("Music: %v", err)
	}
	if filepath.Base(string(mu)) != "music.wav" {
		t.Fatalf("unexpected music path %s", mu)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Fatalf("expected exactly 3 files, got %d", len(entries))
	}
}

func TestGeneratorOverwritesOnRetry(t *testing.T) {
	dir := t.TempDir()
	g := newGenerator(t)
	req := pipeline.ImageRequest{JobID: "v1", Scene: domain.Scene{Number: 1, Description: "x"}, Size: domain.Dimensions{Width: 16, Height: 16}, Dir: dir}
	for i := 0; i < 2; i++ {
		if _, err := g.Image(context.Background(), req); err != nil {
			t.Fatalf("Image: %v", err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("retry should overwrite, found %d files", len(entries))
	}
}

type failingImages struct{}

func (failingImages) GenerateImage(ctx context.Context, req genai.ImageRequest) (genai.ImageAsset, error) {
	return genai.ImageAsset{}, domain.ErrTransient
}

func TestGeneratorWrapsProviderErrors(t *testing.T) {
	g := NewGenerator(failingImages{}, nil, nil, zerolog.Nop())
	_, err := g.Image(context.Background(), pipeline.ImageRequest{JobID: "v1", Scene: domain.Scene{Number: 3}, Dir: t.TempDir()})
	if !errors.Is(err, domain.ErrTransient) || !strings.Contains(err.Error(), "scene 3") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestScenePrompt(t *testing.T) {
	got := ScenePrompt(domain.Scene{Description: "a lake", VisualElements: []string{"boat"}, Lighting: "dusk"}, "watercolor", []string{"swans"})
	want := "a lake. Style: watercolor. Include: boat, swans. Lighting: dusk"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

type recordingSpeech struct {
	got []voice.SpeechRequest
}

func (r *recordingSpeech) Synthesize(ctx context.Context, req voice.SpeechRequest) (voice.Speech, error) {
	r.got = append(r.got, req)
	return voice.Speech{Format: "mp3", Extension: "mp3", Data: []byte("ID3")}, nil
}

func TestGeneratorForwardsVoiceProfile(t *testing.T) {
	speech := &recordingSpeech{}
	g := NewGenerator(nil, speech, nil, zerolog.Nop())
	dir := t.TempDir()

	for _, profile := range []string{"companion-voice-7", ""} {
		if _, err := g.Voice(context.Background(), pipeline.VoiceRequest{JobID: "v1", Scene: 1, Text: "hi", Profile: profile, Locale: "id", Dir: dir}); err != nil {
			t.Fatalf("Voice: %v", err)
		}
	}
	if len(speech.got) != 2 {
		t.Fatalf("expected two synth calls, got %d", len(speech.got))
	}
	if got := speech.got[0]; got.VoiceID != "companion-voice-7" || got.Locale != "id" || got.RequestID != "v1-voice-1" {
		t.Fatalf("unexpected speech request %+v", got)
	}
	if speech.got[1].VoiceID != "" {
		t.Fatalf("empty profile should leave the default voice, got %q", speech.got[1].VoiceID)
	}
}
