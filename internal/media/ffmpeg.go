package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/pipeline"
)

const (
	defaultSceneSeconds = 5.0
	musicVolume         = 0.25
	audioBitrate        = "192k"
	audioSampleRate     = "44100"
)

type Options struct {
	FFmpegPath  string
	FFprobePath string
	Runner      Runner
	Logger      zerolog.Logger
}

// FFmpeg implements the media ports of the pipeline on top of the ffmpeg
// command line tools.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
	runner  Runner
	logger  zerolog.Logger
}

func New(opts Options) *FFmpeg {
	ff := &FFmpeg{
		ffmpeg:  opts.FFmpegPath,
		ffprobe: opts.FFprobePath,
		runner:  opts.Runner,
		logger:  opts.Logger,
	}
	if ff.ffmpeg == "" {
		ff.ffmpeg = "ffmpeg"
	}
	if ff.ffprobe == "" {
		ff.ffprobe = "ffprobe"
	}
	if ff.runner == nil {
		ff.runner = ExecRunner{}
	}
	return ff
}

func (f *FFmpeg) Compose(ctx context.Context, req pipeline.ComposeRequest) (domain.ArtifactRef, error) {
	if err := f.run(ctx, "compose", req.JobID, composeArgs(req)); err != nil {
		return "", err
	}
	return f.produced(req.Output)
}

func (f *FFmpeg) Render(ctx context.Context, req pipeline.RenderRequest) (domain.ArtifactRef, error) {
	if len(req.Clips) == 0 {
		return "", fmt.Errorf("%w: nothing to render", domain.ErrMissingArtifact)
	}
	list := filepath.Join(filepath.Dir(req.Output), "concat.txt")
	if err := os.WriteFile(list, []byte(concatList(req.Clips)), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}
	if err := f.run(ctx, "render", req.JobID, renderArgs(list, req)); err != nil {
		return "", err
	}
	return f.produced(req.Output)
}

func (f *FFmpeg) Encode(ctx context.Context, req pipeline.EncodeRequest) (domain.ArtifactRef, error) {
	if err := f.run(ctx, "encode", req.JobID, encodeArgs(req)); err != nil {
		return "", err
	}
	return f.produced(req.Output)
}

func (f *FFmpeg) Thumbnail(ctx context.Context, video domain.ArtifactRef, offset time.Duration, output string) (domain.ArtifactRef, error) {
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-ss", seconds(offset.Seconds()),
		"-i", string(video),
		"-vframes", "1",
		"-q:v", "2",
		output,
	}
	if err := f.run(ctx, "thumbnail", "", args); err != nil {
		return "", err
	}
	return f.produced(output)
}

// Duration asks ffprobe for the container duration.
func (f *FFmpeg) Duration(ctx context.Context, media domain.ArtifactRef) (time.Duration, error) {
	out, err := f.runner.Run(ctx, f.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		string(media),
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func (f *FFmpeg) run(ctx context.Context, step, jobID string, args []string) error {
	start := time.Now()
	if _, err := f.runner.Run(ctx, f.ffmpeg, args...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return fmt.Errorf("ffmpeg %s: %w", step, err)
	}
	f.logger.Debug().
		Str("job_id", jobID).
		Str("step", step).
		Dur("elapsed", time.Since(start)).
		Msg("media: ffmpeg finished")
	return nil
}

func (f *FFmpeg) produced(path string) (domain.ArtifactRef, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return "", fmt.Errorf("%w: ffmpeg produced no output at %s", domain.ErrMissingArtifact, filepath.Base(path))
	}
	return domain.ArtifactRef(path), nil
}

func composeArgs(req pipeline.ComposeRequest) []string {
	dur := req.Scene.DurationSeconds
	if dur <= 0 {
		dur = defaultSceneSeconds
	}
	fps := strconv.Itoa(req.FrameRate)
	w, h := req.Size.Width, req.Size.Height
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-loop", "1", "-framerate", fps, "-i", string(req.Background),
	}
	if req.Voice != "" {
		args = append(args, "-i", string(req.Voice))
	} else {
		args = append(args, "-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate="+audioSampleRate)
	}
	return append(args,
		"-t", seconds(dur),
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,format=yuv420p", w, h, w, h),
		"-af", "apad",
		"-r", fps,
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "18",
		"-c:a", "aac", "-ar", audioSampleRate, "-ac", "2",
		req.Output,
	)
}

func renderArgs(list string, req pipeline.RenderRequest) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-f", "concat", "-safe", "0", "-i", list}
	if req.Music == "" {
		return append(args, "-c", "copy", req.Output)
	}
	return append(args,
		"-stream_loop", "-1", "-i", string(req.Music),
		"-filter_complex", fmt.Sprintf("[1:a]volume=%.2f[bg];[0:a][bg]amix=inputs=2:duration=first:dropout_transition=0[a]", musicVolume),
		"-map", "0:v", "-map", "[a]",
		"-c:v", "copy", "-c:a", "aac", "-b:a", audioBitrate,
		req.Output,
	)
}

func encodeArgs(req pipeline.EncodeRequest) []string {
	return []string{"-y", "-hide_banner", "-loglevel", "error",
		"-i", string(req.Input),
		"-c:v", req.Params.Codec,
		"-crf", strconv.Itoa(req.Params.CRF),
		"-preset", req.Params.Preset,
		"-r", strconv.Itoa(req.FrameRate),
		"-s", fmt.Sprintf("%dx%d", req.Size.Width, req.Size.Height),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-movflags", "+faststart",
		req.Output,
	}
}

// concatList renders the concat demuxer script. Paths are single quoted with
// embedded quotes escaped the way the demuxer expects.
func concatList(clips []domain.ArtifactRef) string {
	var b strings.Builder
	for _, clip := range clips {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(string(clip), "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

func seconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

var (
	_ pipeline.Compositor  = (*FFmpeg)(nil)
	_ pipeline.Renderer    = (*FFmpeg)(nil)
	_ pipeline.Encoder     = (*FFmpeg)(nil)
	_ pipeline.Thumbnailer = (*FFmpeg)(nil)
	_ pipeline.Prober      = (*FFmpeg)(nil)
)
