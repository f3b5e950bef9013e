package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
)

type harness struct {
	script     *fakeScript
	assets     *fakeAssets
	compositor *fakeCompositor
	renderer   *fakeRenderer
	encoder    *fakeEncoder
	thumbs     *fakeThumbnailer
	uploader   *memoryUploader
	publisher  *recordingPublisher
	workspace  *tempWorkspace
	orch       *Orchestrator
}

func threeScenes() domain.Scenario {
	return domain.Scenario{
		Title: "Harbour",
		Scenes: []domain.Scene{
			{Number: 1, DurationSeconds: 10, Description: "dawn", Dialogue: "Good morning"},
			{Number: 2, DurationSeconds: 10, Description: "boats"},
			{Number: 3, DurationSeconds: 10, Description: "market", Dialogue: "Fresh fish"},
		},
	}
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		script:     &fakeScript{scenario: threeScenes()},
		assets:     &fakeAssets{},
		compositor: &fakeCompositor{},
		renderer:   &fakeRenderer{},
		encoder:    &fakeEncoder{},
		thumbs:     &fakeThumbnailer{},
		uploader:   newMemoryUploader(),
		publisher:  &recordingPublisher{},
		workspace:  &tempWorkspace{root: t.TempDir()},
	}
	opts := Options{
		Script:      h.script,
		Assets:      h.assets,
		Compositor:  h.compositor,
		Renderer:    h.renderer,
		Encoder:     h.encoder,
		Thumbnailer: h.thumbs,
		Uploader:    h.uploader,
		Publisher:   h.publisher,
		Workspace:   h.workspace,
		Bucket:      "videos",
		Logger:      zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	orch, err := NewOrchestrator(opts)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	h.orch = orch
	return h
}

func v1Request() domain.JobRequest {
	return domain.JobRequest{
		ID:              "v1",
		UserID:          "u1",
		Prompt:          "a day at the harbour",
		DurationSeconds: 30,
		Quality:         domain.QualityHD,
		Resolution:      domain.Resolution1080p,
		FrameRate:       24,
	}
}

func terminalEvents(events []domain.Event) []domain.Event {
	var out []domain.Event
	for _, ev := range events {
		switch ev.EventType() {
		case domain.EventGenerationCompleted, domain.EventGenerationFailed:
			out = append(out, ev)
		}
	}
	return out
}

func assertMonotonic(t *testing.T, events []domain.Event) {
	t.Helper()
	lastIdx, lastPct := -1, -1
	for _, ev := range events {
		p, ok := ev.(domain.ProgressEvent)
		if !ok {
			continue
		}
		idx := p.Phase.Index()
		if idx < lastIdx || (idx == lastIdx && p.Percentage < lastPct) {
			t.Fatalf("progress regressed to %s %d%% after index %d %d%%", p.Phase, p.Percentage, lastIdx, lastPct)
		}
		lastIdx, lastPct = idx, p.Percentage
	}
}

func TestRunEndToEndHD(t *testing.T) {
	h := newHarness(t, nil)

	outcome, err := h.orch.Run(context.Background(), v1Request())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !outcome.Succeeded() {
		t.Fatalf("expected completion, got %+v", outcome.Failed)
	}

	if len(h.renderer.calls) != 1 {
		t.Fatalf("expected one render call, got %d", len(h.renderer.calls))
	}
	clips := h.renderer.calls[0].Clips
	if len(clips) != 3 {
		t.Fatalf("expected 3 composed scenes, got %d", len(clips))
	}
	for i, clip := range clips {
		want := filepath.Base(string(clip))
		if want != []string{"scene_001.mp4", "scene_002.mp4", "scene_003.mp4"}[i] {
			t.Fatalf("clip %d out of order: %s", i, want)
		}
	}

	enc := h.encoder.calls[0]
	if enc.Params != (domain.CodecParams{Codec: "libx264", CRF: 20, Preset: "medium"}) {
		t.Fatalf("unexpected codec params %+v", enc.Params)
	}
	if enc.Size != (domain.Dimensions{Width: 1920, Height: 1080}) || enc.FrameRate != 24 {
		t.Fatalf("unexpected size/fps %+v %d", enc.Size, enc.FrameRate)
	}

	terms := terminalEvents(h.publisher.snapshot())
	if len(terms) != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", len(terms))
	}
	done, ok := terms[0].(domain.CompletionEvent)
	if !ok {
		t.Fatalf("expected completion event, got %T", terms[0])
	}
	if len(done.ThumbnailURLs) != 3 {
		t.Fatalf("expected 3 thumbnails, got %v", done.ThumbnailURLs)
	}
	if done.StorageURL != "https://videos.example/videos/v1.mp4" {
		t.Fatalf("unexpected storage url %s", done.StorageURL)
	}
	if done.FileSizeBytes == 0 {
		t.Fatalf("expected non-zero size")
	}
	if h.assets.musicCalls != 0 {
		t.Fatalf("music must not be generated without a style")
	}
	if h.assets.voiceCalls != 2 {
		t.Fatalf("expected one voice task per dialogue scene, got %d", h.assets.voiceCalls)
	}

	assertMonotonic(t, h.publisher.snapshot())
	if _, err := os.Stat(filepath.Join(h.workspace.root, "v1")); !os.IsNotExist(err) {
		t.Fatalf("workspace not cleaned: %v", err)
	}
}

func TestRunEmitsZeroAndHundredPerPhase(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.orch.Run(context.Background(), v1Request()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got []string
	for _, ev := range h.publisher.snapshot() {
		if p, ok := ev.(domain.ProgressEvent); ok {
			got = append(got, string(p.Phase)+":"+string(p.Type))
		}
	}
	var want []string
	for _, phase := range domain.Phases {
		want = append(want, string(phase)+":PHASE_STARTED", string(phase)+":PROGRESS_UPDATE")
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("progress sequence mismatch\n got  %v\n want %v", got, want)
	}
}

func TestRunIsIdempotentAcrossRedelivery(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 2; i++ {
		if _, err := h.orch.Run(context.Background(), v1Request()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	keys := h.uploader.keys()
	sort.Strings(keys)
	want := []string{
		"videos/thumbnails/v1/thumb_0.jpg",
		"videos/thumbnails/v1/thumb_1.jpg",
		"videos/thumbnails/v1/thumb_2.jpg",
		"videos/videos/v1.mp4",
	}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("unexpected keys %v", keys)
	}
	if h.uploader.puts != 8 {
		t.Fatalf("expected both runs to overwrite the same 4 keys, got %d puts", h.uploader.puts)
	}
	if n := len(terminalEvents(h.publisher.snapshot())); n != 2 {
		t.Fatalf("expected one terminal event per run, got %d", n)
	}
}

func TestRunToleratesSingleVoiceFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.assets.failVoices = map[int]bool{3: true}

	outcome, err := h.orch.Run(context.Background(), v1Request())
	if err != nil || !outcome.Succeeded() {
		t.Fatalf("expected completion, got outcome=%+v err=%v", outcome.Failed, err)
	}
	for _, call := range h.compositor.calls {
		if call.Scene.Number == 3 && call.Voice != "" {
			t.Fatalf("scene 3 should be composed without voice")
		}
		if call.Scene.Number == 1 && call.Voice == "" {
			t.Fatalf("scene 1 should keep its voice")
		}
	}
}

func TestRunFailsRenderingWhenMiddleBackgroundMissing(t *testing.T) {
	h := newHarness(t, nil)
	h.assets.failImages = map[int]bool{2: true}

	outcome, err := h.orch.Run(context.Background(), v1Request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Failed == nil {
		t.Fatalf("expected failure")
	}
	if outcome.Failed.Phase != domain.PhaseRendering {
		t.Fatalf("expected RENDERING failure, got %s", outcome.Failed.Phase)
	}
	if len(h.compositor.calls) != 2 {
		t.Fatalf("compositing should run for scenes 1 and 3, got %d calls", len(h.compositor.calls))
	}
	if len(h.renderer.calls) != 0 {
		t.Fatalf("renderer must not be called with a gap")
	}
	terms := terminalEvents(h.publisher.snapshot())
	fe, ok := terms[0].(domain.FailureEvent)
	if len(terms) != 1 || !ok {
		t.Fatalf("expected a single failure event, got %v", terms)
	}
	if fe.Phase != domain.PhaseRendering || fe.ErrorKind != domain.KindPhaseFailure {
		t.Fatalf("unexpected failure event %+v", fe)
	}
	for _, ev := range h.publisher.snapshot() {
		if p, ok := ev.(domain.ProgressEvent); ok && p.Phase.Index() > domain.PhaseRendering.Index() {
			t.Fatalf("phase %s ran after failure", p.Phase)
		}
	}
}

func TestRunFailsWhenNoBackgroundSucceeds(t *testing.T) {
	h := newHarness(t, nil)
	h.assets.failImages = map[int]bool{1: true, 2: true, 3: true}

	outcome, _ := h.orch.Run(context.Background(), v1Request())
	if outcome.Failed == nil || outcome.Failed.Phase != domain.PhaseAssetGeneration {
		t.Fatalf("expected ASSET_GENERATION failure, got %+v", outcome)
	}
	if len(h.compositor.calls) != 0 {
		t.Fatalf("compositing must not run")
	}
}

func TestRunRejectsInvalidRequestBeforeAnyPhase(t *testing.T) {
	h := newHarness(t, nil)
	req := v1Request()
	req.DurationSeconds = 0

	outcome, err := h.orch.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Failed == nil || outcome.Failed.Kind != domain.KindPermanentInput {
		t.Fatalf("expected permanent input failure, got %+v", outcome)
	}
	events := h.publisher.snapshot()
	if len(events) != 1 || events[0].EventType() != domain.EventGenerationFailed {
		t.Fatalf("expected only a failure event, got %v", events)
	}
	if len(h.workspace.cleaned) != 0 {
		t.Fatalf("no workspace should be created for a rejected request")
	}
}

func TestRunRejectsPathLikeJobID(t *testing.T) {
	h := newHarness(t, nil)
	req := v1Request()
	req.ID = "v1/../v2"

	outcome, err := h.orch.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Failed == nil || outcome.Failed.Kind != domain.KindPermanentInput {
		t.Fatalf("expected permanent input failure, got %+v", outcome)
	}
	if len(h.workspace.cleaned) != 0 {
		t.Fatalf("no workspace should be created for a rejected id")
	}
}

func TestRunScriptFailureIsTransientOnDeadline(t *testing.T) {
	h := newHarness(t, nil)
	h.script.err = context.DeadlineExceeded

	outcome, _ := h.orch.Run(context.Background(), v1Request())
	if outcome.Failed == nil || outcome.Failed.Kind != domain.KindTransientExternal {
		t.Fatalf("expected transient failure, got %+v", outcome)
	}
	if outcome.Failed.Phase != domain.PhaseScriptGeneration {
		t.Fatalf("unexpected phase %s", outcome.Failed.Phase)
	}
	if len(h.workspace.cleaned) != 1 {
		t.Fatalf("workspace must be cleaned on failure")
	}
}

func TestRunInvalidScenarioFailsScriptPhase(t *testing.T) {
	h := newHarness(t, nil)
	h.script.scenario = domain.Scenario{Scenes: []domain.Scene{{Number: 2}, {Number: 1}}}

	outcome, _ := h.orch.Run(context.Background(), v1Request())
	if outcome.Failed == nil || outcome.Failed.Phase != domain.PhaseScriptGeneration {
		t.Fatalf("expected SCRIPT_GENERATION failure, got %+v", outcome)
	}
	if outcome.Failed.Kind != domain.KindPhaseFailure {
		t.Fatalf("unexpected kind %s", outcome.Failed.Kind)
	}
}

func TestRunEmptyScenarioFailsBeforeAssets(t *testing.T) {
	h := newHarness(t, nil)
	h.script.scenario = domain.Scenario{Title: "Harbour"}

	outcome, _ := h.orch.Run(context.Background(), v1Request())
	if outcome.Failed == nil || outcome.Failed.Phase != domain.PhaseScriptGeneration {
		t.Fatalf("expected SCRIPT_GENERATION failure, got %+v", outcome)
	}
	if !strings.Contains(outcome.Failed.Reason, "no scenes") {
		t.Fatalf("unexpected reason %q", outcome.Failed.Reason)
	}
	if h.assets.imageCalls != 0 || len(h.renderer.calls) != 0 {
		t.Fatalf("no asset or render work expected, got %d images %d renders", h.assets.imageCalls, len(h.renderer.calls))
	}
}

func TestRunReturnsErrorWhenTerminalPublishFails(t *testing.T) {
	h := newHarness(t, nil)
	h.publisher.failTerm = true

	outcome, err := h.orch.Run(context.Background(), v1Request())
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if !outcome.Succeeded() {
		t.Fatalf("pipeline itself should have succeeded")
	}
}

func TestRunMixesMusicWhenStyleRequested(t *testing.T) {
	h := newHarness(t, nil)
	req := v1Request()
	req.MusicStyle = "ambient"

	if _, err := h.orch.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.assets.musicCalls != 1 {
		t.Fatalf("expected one music task, got %d", h.assets.musicCalls)
	}
	if h.renderer.calls[0].Music == "" {
		t.Fatalf("renderer should receive the music bed")
	}
}

func TestRunRendersWithoutMusicWhenBedFails(t *testing.T) {
	h := newHarness(t, nil)
	h.assets.failMusic = true
	req := v1Request()
	req.MusicStyle = "ambient"

	outcome, err := h.orch.Run(context.Background(), req)
	if err != nil || !outcome.Succeeded() {
		t.Fatalf("music failure must not fail the job: %v %+v", err, outcome)
	}
	if got := h.renderer.calls[0].Music; got != "" {
		t.Fatalf("renderer got music %q", got)
	}
}

func TestRunClampsThumbnailsToProbedDuration(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Prober = fakeProber{duration: 12 * time.Second}
	})
	req := v1Request()
	req.FrameRate = 25

	if _, err := h.orch.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []time.Duration{0, 10 * time.Second, 12*time.Second - 40*time.Millisecond}
	if !reflect.DeepEqual(h.thumbs.offsets, want) {
		t.Fatalf("offsets = %v, want %v", h.thumbs.offsets, want)
	}
}

func TestRunFineProgressStaysMonotonic(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.FanOut.ReportProgress = true
	})
	if _, err := h.orch.Run(context.Background(), v1Request()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := h.publisher.snapshot()
	assertMonotonic(t, events)

	intermediate := 0
	for _, ev := range events {
		if p, ok := ev.(domain.ProgressEvent); ok && p.Phase == domain.PhaseAssetGeneration && p.Percentage > 0 && p.Percentage < 100 {
			intermediate++
		}
	}
	if intermediate == 0 {
		t.Fatalf("expected intermediate asset progress")
	}
}

func TestRunRendererErrorStopsPipeline(t *testing.T) {
	h := newHarness(t, nil)
	h.renderer.err = errors.New("concat failed")

	outcome, _ := h.orch.Run(context.Background(), v1Request())
	if outcome.Failed == nil || outcome.Failed.Phase != domain.PhaseRendering {
		t.Fatalf("expected rendering failure, got %+v", outcome)
	}
	if len(h.encoder.calls) != 0 {
		t.Fatalf("encoding must not run after a failed render")
	}
}

func TestNewOrchestratorRequiresPorts(t *testing.T) {
	if _, err := NewOrchestrator(Options{}); err == nil {
		t.Fatalf("expected error for missing ports")
	}
}

func TestClampOffsets(t *testing.T) {
	got := ClampOffsets(DefaultThumbnailOffsets(), 5*time.Second, 10)
	want := []time.Duration{0, 4900 * time.Millisecond, 4900 * time.Millisecond}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ClampOffsets = %v, want %v", got, want)
	}
	if got := ClampOffsets([]time.Duration{time.Second}, 0, 24); got[0] != 0 {
		t.Fatalf("zero duration should clamp to 0, got %v", got[0])
	}
}
