package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest   = errors.New("invalid job request")
	ErrInvalidScenario  = errors.New("invalid scenario")
	ErrProviderFailure  = errors.New("provider failure")
	ErrTransient        = errors.New("transient external failure")
	ErrMissingArtifact  = errors.New("missing artifact")
	ErrNoBackgrounds    = errors.New("no background generated for any scene")
	ErrRedeliveryLimit  = errors.New("redelivery limit exceeded")
	ErrUndecodableInput = errors.New("undecodable job message")
)

// ErrorKind tags a pipeline failure with its place in the error taxonomy.
type ErrorKind string

const (
	KindTransientExternal   ErrorKind = "TRANSIENT_EXTERNAL"
	KindPermanentInput      ErrorKind = "PERMANENT_INPUT"
	KindPhaseFailure        ErrorKind = "PHASE_FAILURE"
	KindPartialAssetFailure ErrorKind = "PARTIAL_ASSET_FAILURE"
)

// PipelineError is the typed failure returned by phases and the orchestrator.
type PipelineError struct {
	Kind  ErrorKind
	Phase Phase
	Err   error
}

// NewPipelineError wraps err with a kind and the phase it happened in.
func NewPipelineError(kind ErrorKind, phase Phase, err error) *PipelineError {
	return &PipelineError{Kind: kind, Phase: phase, Err: err}
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Phase, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the error kind carried by err, or PhaseFailure when err is
// not a PipelineError.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) && pe.Kind != "" {
		return pe.Kind
	}
	return KindPhaseFailure
}
