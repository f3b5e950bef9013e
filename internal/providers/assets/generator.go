// Package assets adapts the image, voice and music providers to the
// pipeline's asset generation port.
package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/pipeline"
	"vidgen/internal/providers/genai"
	"vidgen/internal/providers/music"
	"vidgen/internal/providers/voice"
)

type ImageClient interface {
	GenerateImage(ctx context.Context, req genai.ImageRequest) (genai.ImageAsset, error)
}

type SpeechClient interface {
	Synthesize(ctx context.Context, req voice.SpeechRequest) (voice.Speech, error)
}

type MusicClient interface {
	Generate(ctx context.Context, style string, duration time.Duration) (music.Bed, error)
}

// Generator writes every produced asset into the job workspace. File names
// depend only on the scene number so a retried job overwrites its own files.
type Generator struct {
	images ImageClient
	speech SpeechClient
	music  MusicClient
	logger zerolog.Logger
}

func NewGenerator(images ImageClient, speech SpeechClient, bed MusicClient, logger zerolog.Logger) *Generator {
	return &Generator{images: images, speech: speech, music: bed, logger: logger}
}

func (g *Generator) Image(ctx context.Context, req pipeline.ImageRequest) (domain.ArtifactRef, error) {
	asset, err := g.images.GenerateImage(ctx, genai.ImageRequest{
		Prompt:    ScenePrompt(req.Scene, req.VisualStyle, req.Elements),
		Width:     req.Size.Width,
		Height:    req.Size.Height,
		RequestID: fmt.Sprintf("%s-scene-%d", req.JobID, req.Scene.Number),
	})
	if err != nil {
		return "", fmt.Errorf("background for scene %d: %w", req.Scene.Number, err)
	}
	name := fmt.Sprintf("background_%03d.%s", req.Scene.Number, imageExtension(asset.Format))
	return writeArtifact(req.Dir, name, asset.Data)
}

func (g *Generator) Voice(ctx context.Context, req pipeline.VoiceRequest) (domain.ArtifactRef, error) {
	// An empty profile leaves the client on its default voice.
	speech, err := g.speech.Synthesize(ctx, voice.SpeechRequest{
		Text:      req.Text,
		VoiceID:   req.Profile,
		Locale:    req.Locale,
		RequestID: fmt.Sprintf("%s-voice-%d", req.JobID, req.Scene),
	})
	if err != nil {
		return "", fmt.Errorf("voice for scene %d: %w", req.Scene, err)
	}
	return writeArtifact(req.Dir, fmt.Sprintf("voice_%03d.%s", req.Scene, speech.Extension), speech.Data)
}

func (g *Generator) Music(ctx context.Context, req pipeline.MusicRequest) (domain.ArtifactRef, error) {
	bed, err := g.music.Generate(ctx, req.Style, req.Duration)
	if err != nil {
		return "", fmt.Errorf("music bed: %w", err)
	}
	g.logger.Debug().Str("job_id", req.JobID).Str("style", bed.Style).Msg("assets: rendered music bed")
	return writeArtifact(req.Dir, "music."+bed.Extension, bed.Data)
}

// ScenePrompt is the image prompt for one scene.
func ScenePrompt(scene domain.Scene, style string, elements []string) string {
	parts := []string{strings.TrimSpace(scene.Description)}
	if style = strings.TrimSpace(style); style != "" {
		parts = append(parts, "Style: "+style)
	}
	all := append(append([]string{}, scene.VisualElements...), elements...)
	if len(all) > 0 {
		parts = append(parts, "Include: "+strings.Join(all, ", "))
	}
	if scene.CameraAngle != "" {
		parts = append(parts, "Camera: "+scene.CameraAngle)
	}
	if scene.Lighting != "" {
		parts = append(parts, "Lighting: "+scene.Lighting)
	}
	return strings.Join(parts, ". ")
}

func writeArtifact(dir, name string, data []byte) (domain.ArtifactRef, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s is empty", domain.ErrMissingArtifact, name)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	target := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return domain.ArtifactRef(target), nil
}

func imageExtension(format string) string {
	switch strings.ToLower(format) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}

var _ pipeline.AssetGenerator = (*Generator)(nil)
