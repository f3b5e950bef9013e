package media

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
)

// fakeRunner records invocations and writes the last argument as the output
// file, the way ffmpeg would.
type fakeRunner struct {
	calls  [][]string
	stdout string
	err    error
	noFile bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return nil, f.err
	}
	if !f.noFile && name == "ffmpeg" {
		if err := os.WriteFile(args[len(args)-1], []byte("media"), 0o644); err != nil {
			return nil, err
		}
	}
	return []byte(f.stdout), nil
}

func (f *fakeRunner) last() string {
	return strings.Join(f.calls[len(f.calls)-1], " ")
}

func newFFmpeg(r *fakeRunner) *FFmpeg {
	return New(Options{Runner: r, Logger: zerolog.Nop()})
}

func TestComposeWithVoice(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{}
	out := filepath.Join(dir, "scene_001.mp4")
	ref, err := newFFmpeg(r).Compose(context.Background(), pipeline.ComposeRequest{
		JobID:      "v1",
		Scene:      domain.Scene{Number: 1, DurationSeconds: 7.5},
		Background: "bg.png",
		Voice:      "voice.wav",
		Size:       domain.Dimensions{Width: 1280, Height: 720},
		FrameRate:  30,
		Output:     out,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if string(ref) != out {
		t.Fatalf("unexpected ref %s", ref)
	}
	cmd := r.last()
	for _, want := range []string{"-loop 1 -framerate 30 -i bg.png", "-i voice.wav", "-t 7.500", "scale=1280:720", "-r 30"} {
		if !strings.Contains(cmd, want) {
			t.Fatalf("missing %q in %s", want, cmd)
		}
	}
	if strings.Contains(cmd, "anullsrc") {
		t.Fatalf("silent track used despite voice: %s", cmd)
	}
}

func TestComposeWithoutVoiceUsesSilence(t *testing.T) {
	args := strings.Join(composeArgs(pipeline.ComposeRequest{Background: "bg.png", FrameRate: 24, Output: "o.mp4"}), " ")
	if !strings.Contains(args, "-f lavfi -i anullsrc") {
		t.Fatalf("expected silent audio source: %s", args)
	}
	if !strings.Contains(args, "-t 5.000") {
		t.Fatalf("expected default scene length: %s", args)
	}
}

func TestRenderWritesConcatList(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{}
	out := filepath.Join(dir, "raw.mp4")
	clips := []domain.ArtifactRef{"/w/scene_001.mp4", "/w/it's.mp4"}
	if _, err := newFFmpeg(r).Render(context.Background(), pipeline.RenderRequest{Clips: clips, Output: out}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	list, err := os.ReadFile(filepath.Join(dir, "concat.txt"))
	if err != nil {
		t.Fatalf("read list: %v", err)
	}
	want := "file '/w/scene_001.mp4'\nfile '/w/it'\\''s.mp4'\n"
	if string(list) != want {
		t.Fatalf("concat list mismatch:\n%s", list)
	}
	if !strings.Contains(r.last(), "-f concat -safe 0") || !strings.Contains(r.last(), "-c copy") {
		t.Fatalf("unexpected render command %s", r.last())
	}
}

func TestRenderMixesMusic(t *testing.T) {
	args := strings.Join(renderArgs("list.txt", pipeline.RenderRequest{Music: "music.wav", Output: "raw.mp4"}), " ")
	for _, want := range []string{"-stream_loop -1 -i music.wav", "amix=inputs=2:duration=first", "-map 0:v -map [a]"} {
		if !strings.Contains(args, want) {
			t.Fatalf("missing %q in %s", want, args)
		}
	}
}

func TestRenderRequiresClips(t *testing.T) {
	_, err := newFFmpeg(&fakeRunner{}).Render(context.Background(), pipeline.RenderRequest{Output: filepath.Join(t.TempDir(), "raw.mp4")})
	if !errors.Is(err, domain.ErrMissingArtifact) {
		t.Fatalf("expected missing artifact, got %v", err)
	}
}

func TestEncodeArgsFollowQualityTable(t *testing.T) {
	cases := []struct {
		quality    domain.Quality
		resolution domain.Resolution
		want       string
	}{
		{domain.QualityStandard, domain.Resolution720p, "-c:v libx264 -crf 23 -preset fast -r 30 -s 1280x720"},
		{domain.QualityHD, domain.Resolution1080p, "-c:v libx264 -crf 20 -preset medium -r 30 -s 1920x1080"},
		{domain.QualityUltra, domain.Resolution4K, "-c:v libx265 -crf 18 -preset slow -r 30 -s 3840x2160"},
	}
	for _, tc := range cases {
		args := strings.Join(encodeArgs(pipeline.EncodeRequest{
			Input:     "raw.mp4",
			Params:    domain.CodecParamsFor(tc.quality),
			Size:      domain.DimensionsFor(tc.resolution),
			FrameRate: 30,
			Output:    "final.mp4",
		}), " ")
		if !strings.Contains(args, tc.want) || !strings.Contains(args, "-c:a aac -b:a 192k") {
			t.Fatalf("%s: unexpected args %s", tc.quality, args)
		}
	}
}

func TestThumbnailArgs(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{}
	out := filepath.Join(dir, "thumb_1.jpg")
	if _, err := newFFmpeg(r).Thumbnail(context.Background(), "final.mp4", 10*time.Second, out); err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if !strings.Contains(r.last(), "-ss 10.000 -i final.mp4 -vframes 1 -q:v 2") {
		t.Fatalf("unexpected thumbnail command %s", r.last())
	}
}

func TestDurationParsesProbe(t *testing.T) {
	r := &fakeRunner{stdout: "12.500000\n"}
	d, err := newFFmpeg(r).Duration(context.Background(), "final.mp4")
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if d != 12500*time.Millisecond {
		t.Fatalf("unexpected duration %s", d)
	}
	if r.calls[0][0] != "ffprobe" {
		t.Fatalf("expected ffprobe, got %s", r.calls[0][0])
	}
}

func TestMissingOutputIsReported(t *testing.T) {
	r := &fakeRunner{noFile: true}
	_, err := newFFmpeg(r).Encode(context.Background(), pipeline.EncodeRequest{Output: filepath.Join(t.TempDir(), "final.mp4")})
	if !errors.Is(err, domain.ErrMissingArtifact) {
		t.Fatalf("expected missing artifact, got %v", err)
	}
}

func TestRunnerErrorKeepsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	r := &fakeRunner{err: errors.New("signal: killed")}
	_, err := newFFmpeg(r).Encode(ctx, pipeline.EncodeRequest{Output: "final.mp4"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in chain, got %v", err)
	}
}
