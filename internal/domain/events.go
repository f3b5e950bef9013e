package domain

import (
	"math"
	"time"
)

// EventType is the wire discriminator of pipeline events.
type EventType string

const (
	EventPhaseStarted        EventType = "PHASE_STARTED"
	EventProgressUpdate      EventType = "PROGRESS_UPDATE"
	EventGenerationCompleted EventType = "GENERATION_COMPLETED"
	EventGenerationFailed    EventType = "GENERATION_FAILED"
)

// Event is implemented by every message published on the events channel.
type Event interface {
	EventType() EventType
	EventJobID() string
}

// ProgressEvent marks the start of a phase (0%) or progress within it.
type ProgressEvent struct {
	Type       EventType `json:"eventType"`
	JobID      string    `json:"videoId"`
	Phase      Phase     `json:"phase"`
	Percentage int       `json:"percentage"`
	Timestamp  int64     `json:"timestamp"`
}

func (e ProgressEvent) EventType() EventType { return e.Type }
func (e ProgressEvent) EventJobID() string   { return e.JobID }

// NewProgressEvent builds a PHASE_STARTED event at 0% and a PROGRESS_UPDATE
// otherwise. The percentage is clamped to [0, 100].
func NewProgressEvent(jobID string, phase Phase, pct int, at time.Time) ProgressEvent {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	kind := EventProgressUpdate
	if pct == 0 {
		kind = EventPhaseStarted
	}
	return ProgressEvent{Type: kind, JobID: jobID, Phase: phase, Percentage: pct, Timestamp: at.UnixMilli()}
}

// CompletionEvent announces a delivered video.
type CompletionEvent struct {
	Type                  EventType `json:"eventType"`
	JobID                 string    `json:"videoId"`
	StorageURL            string    `json:"storageUrl"`
	ThumbnailURLs         []string  `json:"thumbnailUrls"`
	FileSizeBytes         int64     `json:"fileSizeBytes"`
	FileSizeMB            float64   `json:"fileSizeMb"`
	GenerationTimeMillis  int64     `json:"generationTimeMillis"`
	GenerationTimeMinutes int       `json:"generationTimeMinutes"`
	Timestamp             int64     `json:"timestamp"`
}

func (e CompletionEvent) EventType() EventType { return e.Type }
func (e CompletionEvent) EventJobID() string   { return e.JobID }

// NewCompletionEvent derives the completion payload from a successful outcome.
func NewCompletionEvent(jobID string, c Completion, at time.Time) CompletionEvent {
	thumbs := c.ThumbnailURLs
	if thumbs == nil {
		thumbs = []string{}
	}
	return CompletionEvent{
		Type:                  EventGenerationCompleted,
		JobID:                 jobID,
		StorageURL:            c.VideoURL,
		ThumbnailURLs:         thumbs,
		FileSizeBytes:         c.SizeBytes,
		FileSizeMB:            math.Round(float64(c.SizeBytes)/(1024*1024)*100) / 100,
		GenerationTimeMillis:  c.Elapsed.Milliseconds(),
		GenerationTimeMinutes: int(c.Elapsed / time.Minute),
		Timestamp:             at.UnixMilli(),
	}
}

// FailureEvent announces a job that stopped in a given phase.
type FailureEvent struct {
	Type         EventType `json:"eventType"`
	JobID        string    `json:"videoId"`
	Phase        Phase     `json:"phase"`
	ErrorKind    ErrorKind `json:"errorKind"`
	ErrorMessage string    `json:"errorMessage"`
	Timestamp    int64     `json:"timestamp"`
}

func (e FailureEvent) EventType() EventType { return e.Type }
func (e FailureEvent) EventJobID() string   { return e.JobID }

// NewFailureEvent derives the failure payload from a failed outcome.
func NewFailureEvent(jobID string, f Failure, at time.Time) FailureEvent {
	return FailureEvent{
		Type:         EventGenerationFailed,
		JobID:        jobID,
		Phase:        f.Phase,
		ErrorKind:    f.Kind,
		ErrorMessage: f.Reason,
		Timestamp:    at.UnixMilli(),
	}
}
