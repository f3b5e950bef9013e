package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Workspace hands out one scratch directory per job under root.
type Workspace struct {
	root string
}

func NewWorkspace(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage: workspace root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure workspace root: %w", err)
	}
	return &Workspace{root: root}, nil
}

func (w *Workspace) Root() string { return w.root }

// Create returns the job directory, creating it if needed. A redelivered job
// reuses the directory left by a previous attempt.
func (w *Workspace) Create(jobID string) (string, error) {
	dir, err := w.dir(jobID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create workspace: %w", err)
	}
	now := time.Now()
	_ = os.Chtimes(dir, now, now)
	return dir, nil
}

func (w *Workspace) Cleanup(jobID string) error {
	dir, err := w.dir(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("storage: remove workspace: %w", err)
	}
	return nil
}

// Sweep removes job directories untouched for longer than maxAge and returns
// the removed job ids.
func (w *Workspace) Sweep(maxAge time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list workspaces: %w", err)
	}
	var removed []string
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(w.root, entry.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, entry.Name())
	}
	return removed, errors.Join(errs...)
}

func (w *Workspace) dir(jobID string) (string, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) {
		return "", fmt.Errorf("storage: invalid job id %q", jobID)
	}
	return filepath.Join(w.root, jobID), nil
}
