package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vidgen/internal/domain"
)

type fakeScript struct {
	scenario domain.Scenario
	err      error
}

func (f *fakeScript) Generate(ctx context.Context, req domain.JobRequest) (domain.Scenario, error) {
	return f.scenario, f.err
}

type fakeAssets struct {
	mu          sync.Mutex
	failImages  map[int]bool
	hangImages  map[int]bool
	failVoices  map[int]bool
	failMusic   bool
	imageCalls  int
	voiceCalls  int
	musicCalls  int
	inFlight    int
	maxInFlight int
}

func writeArtifact(path, content string) (domain.ArtifactRef, error) {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return domain.ArtifactRef(path), nil
}

func (f *fakeAssets) track(delta int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight += delta
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
}

func (f *fakeAssets) Image(ctx context.Context, req ImageRequest) (domain.ArtifactRef, error) {
	f.track(1)
	defer f.track(-1)
	f.mu.Lock()
	f.imageCalls++
	fail, hang := f.failImages[req.Scene.Number], f.hangImages[req.Scene.Number]
	f.mu.Unlock()
	if hang {
		// ignores ctx while blocked
		time.Sleep(500 * time.Millisecond)
		return "", ctx.Err()
	}
	time.Sleep(5 * time.Millisecond)
	if fail {
		return "", errors.New("image provider unavailable")
	}
	return writeArtifact(filepath.Join(req.Dir, fmt.Sprintf("bg_%d.png", req.Scene.Number)), "bg")
}

func (f *fakeAssets) Voice(ctx context.Context, req VoiceRequest) (domain.ArtifactRef, error) {
	f.mu.Lock()
	f.voiceCalls++
	fail := f.failVoices[req.Scene]
	f.mu.Unlock()
	if fail {
		return "", errors.New("voice provider unavailable")
	}
	return writeArtifact(filepath.Join(req.Dir, fmt.Sprintf("voice_%d.wav", req.Scene)), req.Text)
}

func (f *fakeAssets) Music(ctx context.Context, req MusicRequest) (domain.ArtifactRef, error) {
	f.mu.Lock()
	f.musicCalls++
	fail := f.failMusic
	f.mu.Unlock()
	if fail {
		return "", errors.New("music provider unavailable")
	}
	return writeArtifact(filepath.Join(req.Dir, "music.wav"), req.Style)
}

type fakeCompositor struct {
	mu    sync.Mutex
	calls []ComposeRequest
}

func (f *fakeCompositor) Compose(ctx context.Context, req ComposeRequest) (domain.ArtifactRef, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return writeArtifact(req.Output, fmt.Sprintf("scene-%d", req.Scene.Number))
}

type fakeRenderer struct {
	calls []RenderRequest
	err   error
}

func (f *fakeRenderer) Render(ctx context.Context, req RenderRequest) (domain.ArtifactRef, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return "", f.err
	}
	parts := make([]string, 0, len(req.Clips))
	for _, clip := range req.Clips {
		data, err := os.ReadFile(string(clip))
		if err != nil {
			return "", err
		}
		parts = append(parts, string(data))
	}
	return writeArtifact(req.Output, strings.Join(parts, "|"))
}

type fakeEncoder struct {
	calls []EncodeRequest
}

func (f *fakeEncoder) Encode(ctx context.Context, req EncodeRequest) (domain.ArtifactRef, error) {
	f.calls = append(f.calls, req)
	data, err := os.ReadFile(string(req.Input))
	if err != nil {
		return "", err
	}
	return writeArtifact(req.Output, "encoded:"+string(data))
}

type fakeThumbnailer struct {
	offsets []time.Duration
}

func (f *fakeThumbnailer) Thumbnail(ctx context.Context, video domain.ArtifactRef, offset time.Duration, output string) (domain.ArtifactRef, error) {
	f.offsets = append(f.offsets, offset)
	return writeArtifact(output, offset.String())
}

type fakeProber struct {
	duration time.Duration
	err      error
}

func (f fakeProber) Duration(ctx context.Context, media domain.ArtifactRef) (time.Duration, error) {
	return f.duration, f.err
}

type memoryUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemoryUploader() *memoryUploader {
	return &memoryUploader{objects: make(map[string][]byte)}
}

func (u *memoryUploader) Put(ctx context.Context, localPath, bucket, key string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[bucket+"/"+key] = data
	u.puts++
	return fmt.Sprintf("https://%s.example/%s", bucket, key), nil
}

func (u *memoryUploader) keys() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.objects))
	for k := range u.objects {
		out = append(out, k)
	}
	return out
}

type recordingPublisher struct {
	mu       sync.Mutex
	events   []domain.Event
	failTerm bool
}

func (p *recordingPublisher) Publish(ctx context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.EventType() {
	case domain.EventGenerationCompleted, domain.EventGenerationFailed:
		if p.failTerm {
			return errors.New("broker unavailable")
		}
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) snapshot() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

type tempWorkspace struct {
	root    string
	cleaned []string
}

func (w *tempWorkspace) Create(jobID string) (string, error) {
	dir := filepath.Join(w.root, jobID)
	return dir, os.MkdirAll(dir, 0o755)
}

func (w *tempWorkspace) Cleanup(jobID string) error {
	w.cleaned = append(w.cleaned, jobID)
	return os.RemoveAll(filepath.Join(w.root, jobID))
}
