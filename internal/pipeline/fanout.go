package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vidgen/internal/domain"
)

const (
	DefaultFanOutConcurrency = 4
	DefaultAssetTaskTimeout  = 5 * time.Minute
)

type assetKind string

const (
	assetBackground assetKind = "background"
	assetVoice      assetKind = "voice"
	assetMusic      assetKind = "music"
)

type assetTask struct {
	kind  assetKind
	scene int
	run   func(ctx context.Context) (domain.ArtifactRef, error)
}

// FanOut generates every asset of a scenario concurrently. A failed or timed
// out task leaves its bundle entry absent and never cancels its siblings.
type FanOut struct {
	Assets      AssetGenerator
	Concurrency int
	TaskTimeout time.Duration
	Logger      zerolog.Logger

	// OnTaskDone is called after each task settles, serialised, with the
	// number of settled tasks so far.
	OnTaskDone func(done, total int)
}

func (f *FanOut) limit() int {
	if f.Concurrency <= 0 {
		return DefaultFanOutConcurrency
	}
	return f.Concurrency
}

func (f *FanOut) taskTimeout() time.Duration {
	if f.TaskTimeout <= 0 {
		return DefaultAssetTaskTimeout
	}
	return f.TaskTimeout
}

// Generate runs the asset tasks for scenario and returns the bundle. It only
// fails when the scenario has scenes and not a single background was produced.
func (f *FanOut) Generate(ctx context.Context, req domain.JobRequest, scenario domain.Scenario, dir string) (domain.AssetBundle, error) {
	tasks := f.plan(req, scenario, dir)
	bundle := domain.NewAssetBundle()

	var (
		mu      sync.Mutex
		settled int
		failed  int
	)
	var g errgroup.Group
	g.SetLimit(f.limit())
	for _, task := range tasks {
		g.Go(func() error {
			ref, err := f.runTask(ctx, task)

			mu.Lock()
			defer mu.Unlock()
			settled++
			if err != nil {
				failed++
				f.Logger.Warn().Err(err).
					Str("job_id", req.ID).
					Str("kind", string(domain.KindPartialAssetFailure)).
					Str("asset", string(task.kind)).
					Int("scene", task.scene).
					Msg("pipeline: asset task failed")
			} else {
				switch task.kind {
				case assetBackground:
					bundle.Backgrounds[task.scene] = ref
				case assetVoice:
					bundle.Voices[task.scene] = ref
				case assetMusic:
					bundle.Music = ref
				}
			}
			if f.OnTaskDone != nil {
				f.OnTaskDone(settled, len(tasks))
			}
			return nil
		})
	}
	_ = g.Wait()

	f.Logger.Info().
		Str("job_id", req.ID).
		Int("tasks", len(tasks)).
		Int("failed", failed).
		Int("backgrounds", len(bundle.Backgrounds)).
		Msg("pipeline: asset generation settled")

	if len(scenario.Scenes) > 0 && len(bundle.Backgrounds) == 0 {
		return bundle, domain.NewPipelineError(domain.KindPhaseFailure, domain.PhaseAssetGeneration, domain.ErrNoBackgrounds)
	}
	return bundle, nil
}

func (f *FanOut) plan(req domain.JobRequest, scenario domain.Scenario, dir string) []assetTask {
	size := domain.DimensionsFor(req.Resolution)
	tasks := make([]assetTask, 0, 2*len(scenario.Scenes)+1)
	for _, scene := range scenario.Scenes {
		imgReq := ImageRequest{
			JobID:       req.ID,
			Scene:       scene,
			VisualStyle: req.VisualStyle,
			Elements:    req.IncludeElements,
			Size:        size,
			Dir:         dir,
		}
		tasks = append(tasks, assetTask{
			kind:  assetBackground,
			scene: scene.Number,
			run: func(ctx context.Context) (domain.ArtifactRef, error) {
				return f.Assets.Image(ctx, imgReq)
			},
		})
	}
	for _, scene := range scenario.Scenes {
		if !scene.HasDialogue() {
			continue
		}
		voiceReq := VoiceRequest{
			JobID:   req.ID,
			Scene:   scene.Number,
			Text:    scene.Dialogue,
			Profile: req.VoiceProfile(),
			Locale:  req.Locale,
			Dir:     dir,
		}
		tasks = append(tasks, assetTask{
			kind:  assetVoice,
			scene: scene.Number,
			run: func(ctx context.Context) (domain.ArtifactRef, error) {
				return f.Assets.Voice(ctx, voiceReq)
			},
		})
	}
	if req.WantsMusic() {
		musicReq := MusicRequest{
			JobID:    req.ID,
			Style:    req.MusicStyle,
			Duration: time.Duration(req.DurationSeconds) * time.Second,
			Dir:      dir,
		}
		tasks = append(tasks, assetTask{
			kind: assetMusic,
			run: func(ctx context.Context) (domain.ArtifactRef, error) {
				return f.Assets.Music(ctx, musicReq)
			},
		})
	}
	return tasks
}

type taskResult struct {
	ref domain.ArtifactRef
	err error
}

// runTask bounds one task by its own deadline. The slot is released when the
// deadline passes even if the generator ignores ctx.
func (f *FanOut) runTask(parent context.Context, task assetTask) (domain.ArtifactRef, error) {
	ctx, cancel := context.WithTimeout(parent, f.taskTimeout())
	defer cancel()

	done := make(chan taskResult, 1)
	go func() {
		ref, err := task.run(ctx)
		done <- taskResult{ref: ref, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("%s scene %d: %w", task.kind, task.scene, res.err)
		}
		if res.ref == "" {
			return "", fmt.Errorf("%s scene %d: %w", task.kind, task.scene, domain.ErrMissingArtifact)
		}
		return res.ref, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%s scene %d: %w", task.kind, task.scene, ctx.Err())
	}
}
