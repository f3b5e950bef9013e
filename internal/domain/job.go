package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Quality enumerates the requested output quality tiers.
type Quality string

const (
	QualityStandard Quality = "STANDARD"
	QualityHD       Quality = "HD"
	QualityUltra    Quality = "ULTRA"
)

// Resolution enumerates the requested output resolution tiers.
type Resolution string

const (
	Resolution720p  Resolution = "720p"
	Resolution1080p Resolution = "1080p"
	Resolution4K    Resolution = "4K"
)

// JobRequest is the immutable envelope describing one video generation job as
// carried by the inbound queue message.
type JobRequest struct {
	ID              string     `json:"videoId" validate:"required,jobid"`
	UserID          string     `json:"userId" validate:"required"`
	CompanionID     string     `json:"companionId,omitempty"`
	Prompt          string     `json:"prompt" validate:"required"`
	DurationSeconds int        `json:"durationSeconds" validate:"gt=0"`
	Quality         Quality    `json:"quality" validate:"required"`
	Resolution      Resolution `json:"resolution"`
	FrameRate       int        `json:"frameRate" validate:"gt=0"`
	VisualStyle     string     `json:"visualStyle,omitempty"`
	MusicStyle      string     `json:"musicStyle,omitempty"`
	IncludeElements []string   `json:"includeElements,omitempty"`
	Locale          string     `json:"locale,omitempty"`
	Timestamp       int64      `json:"timestamp"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// jobIDPattern keeps ids usable as a single path segment and object key
// component.
var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("jobid", func(fl validator.FieldLevel) bool {
			return jobIDPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// Validate checks the envelope invariants. Any violation is reported as a
// PermanentInput pipeline error.
func (r JobRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return NewPipelineError(KindPermanentInput, PhasePending, fmt.Errorf("%w: videoId is required", ErrInvalidRequest))
	}
	if err := requestValidator().Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return NewPipelineError(KindPermanentInput, PhasePending,
				fmt.Errorf("%w: field %s failed %q", ErrInvalidRequest, fe.Field(), fe.Tag()))
		}
		return NewPipelineError(KindPermanentInput, PhasePending, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return NewPipelineError(KindPermanentInput, PhasePending, fmt.Errorf("%w: prompt is blank", ErrInvalidRequest))
	}
	return nil
}

// SubmittedAt converts the millisecond submission timestamp.
func (r JobRequest) SubmittedAt() time.Time {
	if r.Timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.Timestamp).UTC()
}

// VoiceProfile returns the voice identity used for dialogue synthesis.
func (r JobRequest) VoiceProfile() string {
	return strings.TrimSpace(r.CompanionID)
}

// WantsMusic reports whether a background music bed was requested.
func (r JobRequest) WantsMusic() bool {
	return strings.TrimSpace(r.MusicStyle) != ""
}
