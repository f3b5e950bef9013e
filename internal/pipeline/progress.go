package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
)

// progressReporter publishes progress for one job and drops any update that
// would move backwards in (phase index, percentage).
type progressReporter struct {
	mu        sync.Mutex
	jobID     string
	publisher EventPublisher
	logger    zerolog.Logger
	now       func() time.Time

	started   bool
	lastPhase int
	lastPct   int
}

func newProgressReporter(jobID string, publisher EventPublisher, logger zerolog.Logger, now func() time.Time) *progressReporter {
	return &progressReporter{jobID: jobID, publisher: publisher, logger: logger, now: now}
}

// report emits a progress event. Publish errors are logged; progress is
// advisory and never fails the job.
func (r *progressReporter) report(ctx context.Context, phase domain.Phase, pct int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := phase.Index()
	if r.started && (idx < r.lastPhase || (idx == r.lastPhase && pct <= r.lastPct)) {
		return
	}
	r.started = true
	r.lastPhase, r.lastPct = idx, pct

	ev := domain.NewProgressEvent(r.jobID, phase, pct, r.now())
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger.Warn().Err(err).Str("job_id", r.jobID).Str("phase", string(phase)).Int("percentage", pct).Msg("pipeline: progress publish failed")
	}
}
