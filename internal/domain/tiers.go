package domain

import "strings"

// TierPolicy holds the submission rules of a quality tier.
type TierPolicy struct {
	MaxDurationSeconds int
	// Resolution is both the default and the highest resolution of the tier.
	Resolution Resolution
	FrameRate  int
	// CostMultiplier scales the per second token price.
	CostMultiplier int
}

const (
	MinDurationSeconds = 10
	MaxPromptLength    = 2000
	MinPromptLength    = 10

	// QueueMinutesPerJob is the rough wall time of one queued job, used for
	// wait estimates.
	QueueMinutesPerJob = 7
)

var tierPolicies = map[Quality]TierPolicy{
	QualityStandard: {MaxDurationSeconds: 300, Resolution: Resolution1080p, FrameRate: 30, CostMultiplier: 1},
	QualityHD:       {MaxDurationSeconds: 180, Resolution: Resolution1080p, FrameRate: 60, CostMultiplier: 2},
	QualityUltra:    {MaxDurationSeconds: 120, Resolution: Resolution4K, FrameRate: 60, CostMultiplier: 5},
}

// ParseQuality returns the canonical tier and whether it is a known one.
func ParseQuality(v string) (Quality, bool) {
	q := Quality(strings.ToUpper(strings.TrimSpace(v)))
	_, ok := tierPolicies[q]
	return q, ok
}

// PolicyFor returns the rules for q; unknown tiers get the STANDARD rules.
func PolicyFor(q Quality) TierPolicy {
	if p, ok := tierPolicies[Quality(strings.ToUpper(strings.TrimSpace(string(q))))]; ok {
		return p
	}
	return tierPolicies[QualityStandard]
}

// AllowsResolution reports whether r fits under the tier's resolution
// ceiling. Unknown resolutions compare as 1080p.
func (p TierPolicy) AllowsResolution(r Resolution) bool {
	return DimensionsFor(r).Height <= DimensionsFor(p.Resolution).Height
}

// EstimatedWaitMinutes converts a queue position into a wait estimate.
func EstimatedWaitMinutes(position int64) int {
	if position <= 0 {
		return 0
	}
	return int(position) * QueueMinutesPerJob
}
