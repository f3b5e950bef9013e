package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vidgen/internal/domain"
)

// VideoKey is the durable storage key of a job's encoded video.
func VideoKey(jobID string) string {
	return fmt.Sprintf("videos/%s.mp4", jobID)
}

// ThumbnailKey is the durable storage key of the i-th thumbnail.
func ThumbnailKey(jobID string, i int) string {
	return fmt.Sprintf("thumbnails/%s/thumb_%d.jpg", jobID, i)
}

// DefaultThumbnailOffsets are the capture points of the three thumbnails.
func DefaultThumbnailOffsets() []time.Duration {
	return []time.Duration{0, 10 * time.Second, 20 * time.Second}
}

// ClampOffsets keeps every offset inside a video of the given duration. The
// last addressable instant is one frame before the end.
func ClampOffsets(offsets []time.Duration, duration time.Duration, frameRate int) []time.Duration {
	limit := duration
	if frameRate > 0 {
		limit -= time.Second / time.Duration(frameRate)
	}
	if limit < 0 {
		limit = 0
	}
	out := make([]time.Duration, len(offsets))
	for i, off := range offsets {
		switch {
		case off < 0:
			out[i] = 0
		case off > limit:
			out[i] = limit
		default:
			out[i] = off
		}
	}
	return out
}

func (r *jobRun) finalize(ctx context.Context) (domain.Completion, error) {
	video := r.st.Encoded
	info, err := os.Stat(string(video))
	if err != nil {
		return domain.Completion{}, fmt.Errorf("%w: encoded video: %v", domain.ErrMissingArtifact, err)
	}

	bucket := r.o.opts.Bucket
	videoURL, err := r.o.opts.Uploader.Put(ctx, string(video), bucket, VideoKey(r.req.ID))
	if err != nil {
		return domain.Completion{}, fmt.Errorf("upload video: %w", err)
	}

	offsets := ClampOffsets(r.o.opts.ThumbnailOffsets, r.videoDuration(ctx, video), r.req.FrameRate)
	thumbs := make([]string, 0, len(offsets))
	for i, off := range offsets {
		out := filepath.Join(r.dir, fmt.Sprintf("thumb_%d.jpg", i))
		ref, err := r.o.opts.Thumbnailer.Thumbnail(ctx, video, off, out)
		if err != nil {
			return domain.Completion{}, fmt.Errorf("thumbnail %d: %w", i, err)
		}
		url, err := r.o.opts.Uploader.Put(ctx, string(ref), bucket, ThumbnailKey(r.req.ID, i))
		if err != nil {
			return domain.Completion{}, fmt.Errorf("upload thumbnail %d: %w", i, err)
		}
		thumbs = append(thumbs, url)
	}

	r.removeIntermediates()

	return domain.Completion{
		VideoURL:      videoURL,
		ThumbnailURLs: thumbs,
		SizeBytes:     info.Size(),
	}, nil
}

// videoDuration prefers the probed length and falls back to the requested one.
func (r *jobRun) videoDuration(ctx context.Context, video domain.ArtifactRef) time.Duration {
	requested := time.Duration(r.req.DurationSeconds) * time.Second
	if r.o.opts.Prober == nil {
		return requested
	}
	d, err := r.o.opts.Prober.Duration(ctx, video)
	if err != nil || d <= 0 {
		r.log.Debug().Err(err).Msg("pipeline: probe failed, using requested duration")
		return requested
	}
	return d
}

// removeIntermediates deletes scene clips and the raw render. Failures are
// logged only.
func (r *jobRun) removeIntermediates() {
	paths := make([]domain.ArtifactRef, 0, len(r.st.Composed)+1)
	for _, ref := range r.st.Composed {
		paths = append(paths, ref)
	}
	paths = append(paths, r.st.Rendered)
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(string(p)); err != nil && !os.IsNotExist(err) {
			r.log.Debug().Err(err).Str("path", string(p)).Msg("pipeline: remove intermediate failed")
		}
	}
}
