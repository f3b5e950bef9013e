package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"vidgen/internal/domain"
)

const scenarioDurationTolerance = 0.2

func (r *jobRun) generateScript(ctx context.Context) error {
	scenario, err := r.o.opts.Script.Generate(ctx, r.req)
	if err != nil {
		return fmt.Errorf("generate scenario: %w", err)
	}
	if err := scenario.Validate(); err != nil {
		return domain.NewPipelineError(domain.KindPhaseFailure, domain.PhaseScriptGeneration, err)
	}
	if scenario.DurationDrift(r.req.DurationSeconds, scenarioDurationTolerance) {
		r.log.Warn().
			Float64("scenes_seconds", scenario.TotalDuration()).
			Int("requested_seconds", r.req.DurationSeconds).
			Msg("pipeline: scenario duration differs from request")
	}
	r.st.Scenario = scenario
	r.log.Info().Str("title", scenario.Title).Int("scenes", len(scenario.Scenes)).Msg("pipeline: scenario ready")
	return nil
}

func (r *jobRun) generateAssets(ctx context.Context) error {
	fan := &FanOut{
		Assets:      r.o.opts.Assets,
		Concurrency: r.o.opts.FanOut.Concurrency,
		TaskTimeout: r.o.opts.FanOut.TaskTimeout,
		Logger:      r.log,
	}
	if r.o.opts.FanOut.ReportProgress {
		fan.OnTaskDone = func(done, total int) {
			if total == 0 || done >= total {
				return
			}
			r.progress.report(ctx, domain.PhaseAssetGeneration, done*100/total)
		}
	}
	bundle, err := fan.Generate(ctx, r.req, r.st.Scenario, r.dir)
	r.st.Assets = bundle
	return err
}

// composite builds one clip per scene in scene order. Scenes without a
// background are skipped; rendering rejects the gap.
func (r *jobRun) composite(ctx context.Context) error {
	size := domain.DimensionsFor(r.req.Resolution)
	for _, scene := range r.st.Scenario.Scenes {
		bg, ok := r.st.Assets.Background(scene.Number)
		if !ok {
			r.log.Warn().Int("scene", scene.Number).Msg("pipeline: scene has no background, not composed")
			continue
		}
		voice, _ := r.st.Assets.Voice(scene.Number)
		ref, err := r.o.opts.Compositor.Compose(ctx, ComposeRequest{
			JobID:      r.req.ID,
			Scene:      scene,
			Background: bg,
			Voice:      voice,
			Size:       size,
			FrameRate:  r.req.FrameRate,
			Output:     filepath.Join(r.dir, fmt.Sprintf("scene_%03d.mp4", scene.Number)),
		})
		if err != nil {
			return fmt.Errorf("compose scene %d: %w", scene.Number, err)
		}
		r.st.Composed[scene.Number] = ref
	}
	return nil
}

// render concatenates composed clips strictly in scenario order.
func (r *jobRun) render(ctx context.Context) error {
	scenes := r.st.Scenario.Scenes
	if len(scenes) == 0 {
		return fmt.Errorf("%w: scenario has no scenes", domain.ErrMissingArtifact)
	}
	clips := make([]domain.ArtifactRef, 0, len(scenes))
	for _, scene := range scenes {
		ref, ok := r.st.Composed[scene.Number]
		if !ok || ref == "" {
			return fmt.Errorf("%w: no composed clip for scene %d", domain.ErrMissingArtifact, scene.Number)
		}
		clips = append(clips, ref)
	}
	render := RenderRequest{
		JobID:  r.req.ID,
		Clips:  clips,
		Output: filepath.Join(r.dir, "raw.mp4"),
	}
	if r.st.Assets.HasMusic() {
		render.Music = r.st.Assets.Music
	} else if r.req.WantsMusic() {
		r.log.Warn().Str("music_style", r.req.MusicStyle).Msg("pipeline: music bed missing, rendering without it")
	}
	out, err := r.o.opts.Renderer.Render(ctx, render)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	r.st.Rendered = out
	return nil
}

func (r *jobRun) encode(ctx context.Context) error {
	out, err := r.o.opts.Encoder.Encode(ctx, EncodeRequest{
		JobID:     r.req.ID,
		Input:     r.st.Rendered,
		Params:    domain.CodecParamsFor(r.req.Quality),
		Size:      domain.DimensionsFor(r.req.Resolution),
		FrameRate: r.req.FrameRate,
		Output:    filepath.Join(r.dir, "final.mp4"),
	})
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	r.st.Encoded = out
	return nil
}
