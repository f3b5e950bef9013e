package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestFileStorePut(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root, "http://localhost:8080/static/")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	src := writeTemp(t, "final.mp4", "v1")
	url, err := store.Put(context.Background(), src, "videos-bucket", "videos/abc.mp4")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "http://localhost:8080/static/videos-bucket/videos/abc.mp4" {
		t.Fatalf("unexpected url %s", url)
	}

	// same key twice overwrites
	src2 := writeTemp(t, "final.mp4", "v2")
	if _, err := store.Put(context.Background(), src2, "videos-bucket", "videos/abc.mp4"); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "videos-bucket", "videos", "abc.mp4"))
	if err != nil || string(data) != "v2" {
		t.Fatalf("expected overwritten object, got %q %v", data, err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, _ := NewFileStore(t.TempDir(), "")
	src := writeTemp(t, "x", "x")
	if _, err := store.Put(context.Background(), src, "..", "../etc/passwd"); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
}

func TestSanitizeKey(t *testing.T) {
	cases := map[string]string{
		"/videos/a.mp4":      "videos/a.mp4",
		"./thumbs//b.jpg":    "thumbs/b.jpg",
		`thumbnails\v\1.jpg`: "thumbnails/v/1.jpg",
	}
	for in, want := range cases {
		got, err := sanitizeKey(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %q %v want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "..", "../x", "a/../../x"} {
		if _, err := sanitizeKey(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

type recordingS3 struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (r *recordingS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	r.input = params
	data, _ := io.ReadAll(params.Body)
	r.body = string(data)
	return &s3.PutObjectOutput{}, r.err
}

func TestS3StorePut(t *testing.T) {
	api := &recordingS3{}
	store := newS3Store(api, S3Options{Region: "eu-west-1"})
	src := writeTemp(t, "final.mp4", "video")
	url, err := store.Put(context.Background(), src, "nexusai-videos-prod", "videos/abc.mp4")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "https://nexusai-videos-prod.s3.eu-west-1.amazonaws.com/videos/abc.mp4" {
		t.Fatalf("unexpected url %s", url)
	}
	if aws.ToString(api.input.Key) != "videos/abc.mp4" || aws.ToString(api.input.ContentType) != "video/mp4" {
		t.Fatalf("unexpected input %+v", api.input)
	}
	if aws.ToInt64(api.input.ContentLength) != 5 || api.body != "video" {
		t.Fatalf("unexpected body %q", api.body)
	}
}

func TestS3StorePublicBaseURL(t *testing.T) {
	store := newS3Store(&recordingS3{}, S3Options{Region: "us-east-1", PublicBaseURL: "http://minio:9000/"})
	url, err := store.Put(context.Background(), writeTemp(t, "t.jpg", "j"), "b", "thumbnails/v/thumb_0.jpg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "http://minio:9000/b/thumbnails/v/thumb_0.jpg" {
		t.Fatalf("unexpected url %s", url)
	}
}

func TestS3StoreError(t *testing.T) {
	store := newS3Store(&recordingS3{err: errors.New("denied")}, S3Options{Region: "eu-west-1"})
	if _, err := store.Put(context.Background(), writeTemp(t, "a.mp4", "x"), "b", "k.mp4"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWorkspaceLifecycle(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	dir, err := ws.Create("job-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if again, _ := ws.Create("job-1"); again != dir {
		t.Fatalf("expected the same directory on retry")
	}
	if err := os.WriteFile(filepath.Join(dir, "scene_001.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ws.Cleanup("job-1"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("workspace not removed")
	}
	if _, err := ws.Create("../escape"); err == nil {
		t.Fatalf("expected invalid job id")
	}
}

func TestWorkspaceSweep(t *testing.T) {
	ws, _ := NewWorkspace(t.TempDir())
	old, _ := ws.Create("old")
	fresh, _ := ws.Create("fresh")
	past := time.Now().Add(-10 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := ws.Sweep(6*time.Hour, time.Now())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(removed) != 1 || removed[0] != "old" {
		t.Fatalf("unexpected removed %v", removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh workspace removed: %v", err)
	}
}
