package domain

import (
	"fmt"
	"math"
	"strings"
)

// Scene is one ordered segment of a scenario.
type Scene struct {
	Number          int      `json:"scene_number"`
	DurationSeconds float64  `json:"duration"`
	Description     string   `json:"description"`
	Dialogue        string   `json:"dialogue,omitempty"`
	VisualElements  []string `json:"visual_elements,omitempty"`
	CameraAngle     string   `json:"camera_angle,omitempty"`
	Lighting        string   `json:"lighting,omitempty"`
}

// HasDialogue reports whether the scene needs a voice track.
func (s Scene) HasDialogue() bool {
	return strings.TrimSpace(s.Dialogue) != ""
}

// Scenario is the structured script produced by the script generation phase.
type Scenario struct {
	Title  string  `json:"title"`
	Scenes []Scene `json:"scenes"`
}

// Validate enforces the hard ordering invariant: scene numbers are unique and
// strictly increasing in list order. A scenario without scenes is invalid.
func (s Scenario) Validate() error {
	if len(s.Scenes) == 0 {
		return fmt.Errorf("%w: no scenes", ErrInvalidScenario)
	}
	for i, scene := range s.Scenes {
		if i == 0 {
			continue
		}
		prev := s.Scenes[i-1].Number
		if scene.Number <= prev {
			return fmt.Errorf("%w: scene %d follows scene %d", ErrInvalidScenario, scene.Number, prev)
		}
	}
	return nil
}

// TotalDuration sums the scene durations in seconds.
func (s Scenario) TotalDuration() float64 {
	var total float64
	for _, scene := range s.Scenes {
		total += scene.DurationSeconds
	}
	return total
}

// DurationDrift reports whether the scene durations deviate from the
// requested duration by more than tolerance (a fraction, e.g. 0.2).
func (s Scenario) DurationDrift(requested int, tolerance float64) bool {
	if requested <= 0 {
		return false
	}
	diff := math.Abs(s.TotalDuration() - float64(requested))
	return diff > float64(requested)*tolerance
}
