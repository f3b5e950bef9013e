package pipeline

import (
	"context"
	"time"

	"vidgen/internal/domain"
)

// ScriptGenerator turns a job request into a structured scenario.
type ScriptGenerator interface {
	Generate(ctx context.Context, req domain.JobRequest) (domain.Scenario, error)
}

// ImageRequest asks for the background still of one scene.
type ImageRequest struct {
	JobID       string
	Scene       domain.Scene
	VisualStyle string
	Elements    []string
	Size        domain.Dimensions
	Dir         string
}

// VoiceRequest asks for the spoken dialogue of one scene.
type VoiceRequest struct {
	JobID   string
	Scene   int
	Text    string
	Profile string
	Locale  string
	Dir     string
}

// MusicRequest asks for a background music bed covering the whole video.
type MusicRequest struct {
	JobID    string
	Style    string
	Duration time.Duration
	Dir      string
}

// AssetGenerator produces the media used by compositing. Implementations
// write into the supplied directory and return the produced file.
type AssetGenerator interface {
	Image(ctx context.Context, req ImageRequest) (domain.ArtifactRef, error)
	Voice(ctx context.Context, req VoiceRequest) (domain.ArtifactRef, error)
	Music(ctx context.Context, req MusicRequest) (domain.ArtifactRef, error)
}

// ComposeRequest combines one scene with its assets.
type ComposeRequest struct {
	JobID      string
	Scene      domain.Scene
	Background domain.ArtifactRef
	Voice      domain.ArtifactRef
	Size       domain.Dimensions
	FrameRate  int
	Output     string
}

type Compositor interface {
	Compose(ctx context.Context, req ComposeRequest) (domain.ArtifactRef, error)
}

// RenderRequest concatenates composed scenes in the given order.
type RenderRequest struct {
	JobID  string
	Clips  []domain.ArtifactRef
	Music  domain.ArtifactRef
	Output string
}

type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (domain.ArtifactRef, error)
}

// EncodeRequest transcodes the raw render with the tier parameters.
type EncodeRequest struct {
	JobID     string
	Input     domain.ArtifactRef
	Params    domain.CodecParams
	Size      domain.Dimensions
	FrameRate int
	Output    string
}

type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest) (domain.ArtifactRef, error)
}

// Thumbnailer extracts a single still at the given offset.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, video domain.ArtifactRef, offset time.Duration, output string) (domain.ArtifactRef, error)
}

// Prober reports the playable duration of a media file.
type Prober interface {
	Duration(ctx context.Context, media domain.ArtifactRef) (time.Duration, error)
}

// Uploader stores a local file under bucket/key and returns its public URL.
// Writing the same key twice overwrites.
type Uploader interface {
	Put(ctx context.Context, localPath, bucket, key string) (string, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Workspace owns the per-job temporary directories.
type Workspace interface {
	Create(jobID string) (string, error)
	Cleanup(jobID string) error
}
