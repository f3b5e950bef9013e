package events

import (
	"context"
	"fmt"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/sqlinline"
)

// Projector mirrors events onto the video_generations row. Updates are
// idempotent and never move progress backwards, so duplicate or late events
// are harmless.
type Projector struct {
	sql infra.SQLExecutor
}

func NewProjector(sql infra.SQLExecutor) *Projector {
	return &Projector{sql: sql}
}

func (p *Projector) Publish(ctx context.Context, ev domain.Event) error {
	var err error
	switch e := ev.(type) {
	case domain.ProgressEvent:
		_, err = p.sql.Exec(ctx, sqlinline.QProjectVideoProgress, e.JobID, string(e.Phase), e.Phase.Index(), e.Percentage)
	case domain.CompletionEvent:
		_, err = p.sql.Exec(ctx, sqlinline.QProjectVideoCompleted,
			e.JobID,
			e.StorageURL,
			e.ThumbnailURLs,
			e.FileSizeBytes,
			e.FileSizeMB,
			e.GenerationTimeMinutes,
		)
	case domain.FailureEvent:
		_, err = p.sql.Exec(ctx, sqlinline.QProjectVideoFailed, e.JobID, string(e.Phase), string(e.ErrorKind), e.ErrorMessage)
	default:
		return fmt.Errorf("projector: unsupported event %T", ev)
	}
	if err != nil {
		return fmt.Errorf("project %s for %s: %w", ev.EventType(), ev.EventJobID(), err)
	}
	return nil
}
