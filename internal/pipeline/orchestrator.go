package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
)

// Timeouts bounds each working phase.
type Timeouts struct {
	Script       time.Duration
	Assets       time.Duration
	Compositing  time.Duration
	Rendering    time.Duration
	Encoding     time.Duration
	Finalization time.Duration
}

// DefaultTimeouts returns the phase deadlines used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Script:       5 * time.Minute,
		Assets:       30 * time.Minute,
		Compositing:  30 * time.Minute,
		Rendering:    30 * time.Minute,
		Encoding:     60 * time.Minute,
		Finalization: 30 * time.Minute,
	}
}

func (t Timeouts) forPhase(phase domain.Phase) time.Duration {
	defaults := DefaultTimeouts()
	pick := func(v, fallback time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return fallback
	}
	switch phase {
	case domain.PhaseScriptGeneration:
		return pick(t.Script, defaults.Script)
	case domain.PhaseAssetGeneration:
		return pick(t.Assets, defaults.Assets)
	case domain.PhaseCompositing:
		return pick(t.Compositing, defaults.Compositing)
	case domain.PhaseRendering:
		return pick(t.Rendering, defaults.Rendering)
	case domain.PhaseEncoding:
		return pick(t.Encoding, defaults.Encoding)
	case domain.PhaseFinalization:
		return pick(t.Finalization, defaults.Finalization)
	}
	return time.Hour
}

// Options wires the orchestrator to its collaborators.
type Options struct {
	Script      ScriptGenerator
	Assets      AssetGenerator
	Compositor  Compositor
	Renderer    Renderer
	Encoder     Encoder
	Thumbnailer Thumbnailer
	Prober      Prober
	Uploader    Uploader
	Publisher   EventPublisher
	Workspace   Workspace

	Bucket           string
	Timeouts         Timeouts
	FanOut           FanOutOptions
	ThumbnailOffsets []time.Duration
	Logger           zerolog.Logger
	Now              func() time.Time
}

// FanOutOptions configures asset generation.
type FanOutOptions struct {
	Concurrency int
	TaskTimeout time.Duration
	// ReportProgress emits PROGRESS_UPDATE events as asset tasks settle.
	ReportProgress bool
}

// Orchestrator drives one job through the ordered phases.
type Orchestrator struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	missing := func(name string) error { return fmt.Errorf("pipeline: %s is required", name) }
	switch {
	case opts.Script == nil:
		return nil, missing("script generator")
	case opts.Assets == nil:
		return nil, missing("asset generator")
	case opts.Compositor == nil:
		return nil, missing("compositor")
	case opts.Renderer == nil:
		return nil, missing("renderer")
	case opts.Encoder == nil:
		return nil, missing("encoder")
	case opts.Thumbnailer == nil:
		return nil, missing("thumbnailer")
	case opts.Uploader == nil:
		return nil, missing("uploader")
	case opts.Publisher == nil:
		return nil, missing("event publisher")
	case opts.Workspace == nil:
		return nil, missing("workspace")
	}
	if len(opts.ThumbnailOffsets) == 0 {
		opts.ThumbnailOffsets = DefaultThumbnailOffsets()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{opts: opts, logger: opts.Logger, now: now}, nil
}

// Run executes the pipeline for req and publishes exactly one terminal event.
// The returned error is non-nil only when that terminal event could not be
// published; the caller must then leave the delivery unacknowledged.
func (o *Orchestrator) Run(ctx context.Context, req domain.JobRequest) (domain.Outcome, error) {
	started := o.now()
	log := o.logger.With().Str("job_id", req.ID).Logger()

	if err := req.Validate(); err != nil {
		log.Warn().Err(err).Msg("pipeline: rejected job request")
		outcome := domain.FailedOutcome(req.ID, domain.PhasePending, err)
		if req.ID == "" {
			// nothing to correlate an event with
			return outcome, nil
		}
		return outcome, o.publishTerminal(ctx, outcome)
	}

	dir, err := o.opts.Workspace.Create(req.ID)
	if err != nil {
		outcome := domain.FailedOutcome(req.ID, domain.PhasePending,
			domain.NewPipelineError(domain.KindTransientExternal, domain.PhasePending, fmt.Errorf("create workspace: %w", err)))
		return outcome, o.publishTerminal(ctx, outcome)
	}
	defer func() {
		if err := o.opts.Workspace.Cleanup(req.ID); err != nil {
			log.Warn().Err(err).Msg("pipeline: workspace cleanup failed")
		}
	}()

	begin := log.Info().Str("quality", string(req.Quality)).Str("resolution", string(req.Resolution))
	if at := req.SubmittedAt(); !at.IsZero() {
		begin = begin.Dur("queue_wait", started.Sub(at))
	}
	begin.Msg("pipeline: job started")

	st := newState(req.ID)
	progress := newProgressReporter(req.ID, o.opts.Publisher, log, o.now)

	run := &jobRun{o: o, req: req, st: st, dir: dir, progress: progress, log: log}
	completion, err := run.execute(ctx)
	if err != nil {
		var pe *domain.PipelineError
		phase := st.Phase
		if errors.As(err, &pe) && pe.Phase != "" {
			phase = pe.Phase
		}
		outcome := domain.FailedOutcome(req.ID, phase, err)
		st.fail(outcome)
		log.Error().Err(err).Str("phase", string(phase)).Str("kind", string(outcome.Failed.Kind)).Msg("pipeline: job failed")
		return outcome, o.publishTerminal(ctx, outcome)
	}

	completion.Elapsed = o.now().Sub(started)
	outcome := domain.CompletedOutcome(req.ID, completion)
	st.complete(outcome)
	log.Info().
		Str("video_url", completion.VideoURL).
		Int64("size_bytes", completion.SizeBytes).
		Dur("elapsed", completion.Elapsed).
		Msg("pipeline: job completed")
	return outcome, o.publishTerminal(ctx, outcome)
}

func (o *Orchestrator) publishTerminal(ctx context.Context, outcome domain.Outcome) error {
	var ev domain.Event
	if outcome.Completed != nil {
		ev = domain.NewCompletionEvent(outcome.JobID, *outcome.Completed, o.now())
	} else {
		ev = domain.NewFailureEvent(outcome.JobID, *outcome.Failed, o.now())
	}
	if err := o.opts.Publisher.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish %s: %w", ev.EventType(), err)
	}
	return nil
}

type jobRun struct {
	o        *Orchestrator
	req      domain.JobRequest
	st       *State
	dir      string
	progress *progressReporter
	log      zerolog.Logger
}

func (r *jobRun) execute(ctx context.Context) (domain.Completion, error) {
	steps := []struct {
		phase domain.Phase
		fn    func(context.Context) error
	}{
		{domain.PhaseScriptGeneration, r.generateScript},
		{domain.PhaseAssetGeneration, r.generateAssets},
		{domain.PhaseCompositing, r.composite},
		{domain.PhaseRendering, r.render},
		{domain.PhaseEncoding, r.encode},
	}
	for _, step := range steps {
		if err := r.runPhase(ctx, step.phase, step.fn); err != nil {
			return domain.Completion{}, err
		}
	}

	var completion domain.Completion
	err := r.runPhase(ctx, domain.PhaseFinalization, func(ctx context.Context) error {
		c, err := r.finalize(ctx)
		completion = c
		return err
	})
	return completion, err
}

// runPhase is the phase executor: 0% event, bounded call, typed error, 100%
// event.
func (r *jobRun) runPhase(ctx context.Context, phase domain.Phase, fn func(context.Context) error) error {
	if err := r.st.enter(phase); err != nil {
		return domain.NewPipelineError(domain.KindPhaseFailure, phase, err)
	}
	r.progress.report(ctx, phase, 0)

	phaseStart := r.o.now()
	phaseCtx, cancel := context.WithTimeout(ctx, r.o.opts.Timeouts.forPhase(phase))
	defer cancel()

	if err := fn(phaseCtx); err != nil {
		return classify(phaseCtx, phase, err)
	}

	r.st.Percentage = 100
	r.progress.report(ctx, phase, 100)
	r.log.Debug().Str("phase", string(phase)).Dur("took", r.o.now().Sub(phaseStart)).Msg("pipeline: phase completed")
	return nil
}

// classify converts a phase error into a typed pipeline error.
func classify(ctx context.Context, phase domain.Phase, err error) error {
	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		if pe.Phase == "" || pe.Kind == "" {
			cp := *pe
			if cp.Phase == "" {
				cp.Phase = phase
			}
			if cp.Kind == "" {
				cp.Kind = domain.KindPhaseFailure
			}
			return &cp
		}
		return err
	}
	kind := domain.KindPhaseFailure
	if errors.Is(err, domain.ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = domain.KindTransientExternal
	}
	return domain.NewPipelineError(kind, phase, err)
}
