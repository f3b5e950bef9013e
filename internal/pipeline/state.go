package pipeline

import (
	"fmt"

	"vidgen/internal/domain"
)

// State is the per-job record the orchestrator carries between phases. It
// lives for one Run call only.
type State struct {
	JobID      string
	Phase      domain.Phase
	Percentage int

	Scenario domain.Scenario
	Assets   domain.AssetBundle
	Composed map[int]domain.ArtifactRef
	Rendered domain.ArtifactRef
	Encoded  domain.ArtifactRef

	Outcome *domain.Outcome
}

func newState(jobID string) *State {
	return &State{
		JobID:    jobID,
		Phase:    domain.PhasePending,
		Assets:   domain.NewAssetBundle(),
		Composed: make(map[int]domain.ArtifactRef),
	}
}

// enter moves the state machine into the next working phase.
func (s *State) enter(phase domain.Phase) error {
	if !s.Phase.CanTransition(phase) {
		return fmt.Errorf("illegal transition %s -> %s", s.Phase, phase)
	}
	s.Phase = phase
	s.Percentage = 0
	return nil
}

// complete records the successful terminal outcome.
func (s *State) complete(outcome domain.Outcome) {
	s.Phase = domain.PhaseCompleted
	s.Percentage = 100
	s.Outcome = &outcome
}

// fail records the failed terminal outcome.
func (s *State) fail(outcome domain.Outcome) {
	s.Phase = domain.PhaseFailed
	s.Outcome = &outcome
}
