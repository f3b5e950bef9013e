package domain

import "time"

// Completion describes a successfully delivered video.
type Completion struct {
	VideoURL      string
	ThumbnailURLs []string
	SizeBytes     int64
	Elapsed       time.Duration
}

// Failure describes why a job stopped.
type Failure struct {
	Phase  Phase
	Kind   ErrorKind
	Reason string
}

// Outcome is the terminal result of one pipeline run. Exactly one of
// Completed or Failed is set.
type Outcome struct {
	JobID     string
	Completed *Completion
	Failed    *Failure
}

// Succeeded reports whether the run delivered a video.
func (o Outcome) Succeeded() bool {
	return o.Completed != nil
}

// CompletedOutcome builds a successful outcome.
func CompletedOutcome(jobID string, c Completion) Outcome {
	return Outcome{JobID: jobID, Completed: &c}
}

// FailedOutcome builds a failed outcome from a pipeline error.
func FailedOutcome(jobID string, phase Phase, err error) Outcome {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return Outcome{JobID: jobID, Failed: &Failure{Phase: phase, Kind: KindOf(err), Reason: reason}}
}
