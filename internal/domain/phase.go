package domain

// Phase names one state of the per-job pipeline state machine.
type Phase string

const (
	PhasePending          Phase = "PENDING"
	PhaseScriptGeneration Phase = "SCRIPT_GENERATION"
	PhaseAssetGeneration  Phase = "ASSET_GENERATION"
	PhaseCompositing      Phase = "COMPOSITING"
	PhaseRendering        Phase = "RENDERING"
	PhaseEncoding         Phase = "ENCODING"
	PhaseFinalization     Phase = "FINALIZATION"
	PhaseCompleted        Phase = "COMPLETED"
	PhaseFailed           Phase = "FAILED"
)

// Phases is the ordered sequence of working phases.
var Phases = []Phase{
	PhaseScriptGeneration,
	PhaseAssetGeneration,
	PhaseCompositing,
	PhaseRendering,
	PhaseEncoding,
	PhaseFinalization,
}

// Index returns the position of p in the state machine: 0 for PENDING, 1..6
// for the working phases and 7 for COMPLETED. FAILED and unknown phases
// return -1.
func (p Phase) Index() int {
	switch p {
	case PhasePending:
		return 0
	case PhaseCompleted:
		return len(Phases) + 1
	}
	for i, candidate := range Phases {
		if candidate == p {
			return i + 1
		}
	}
	return -1
}

// Terminal reports whether p ends the state machine.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// CanTransition reports whether the state machine allows moving from p to next.
// Transitions are linear; any non-terminal state may fail.
func (p Phase) CanTransition(next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseFailed {
		return true
	}
	from, to := p.Index(), next.Index()
	return from >= 0 && to == from+1
}
