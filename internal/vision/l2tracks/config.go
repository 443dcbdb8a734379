package l2tracks

import (
	"errors"
	"fmt"

	"github.com/banshee-data/sequence.report/internal/config"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is returned by NewTracker when the configuration is rejected.
var ErrInvalidConfig = errors.New("l2tracks: invalid tracker config")

// AssignmentMethod selects the detection-to-track solver.
type AssignmentMethod string

const (
	AssignGreedy    AssignmentMethod = "greedy"    // Closest pairs first
	AssignHungarian AssignmentMethod = "hungarian" // Minimum total distance
)

// LabelPolicy decides which label a track reports over its lifetime.
type LabelPolicy string

const (
	LabelLatest LabelPolicy = "latest" // Label of the most recent matched detection
	LabelFrozen LabelPolicy = "frozen" // Label of the detection that confirmed the track
)

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	DistanceThreshold      float64          `validate:"gt=0"`                          // Max distance for a detection to match a track
	HitCounterMax          int              `validate:"gte=1"`                         // Hit counter ceiling; misses beyond it remove the track
	InitializationDelay    int              `validate:"gte=0,ltfield=HitCounterMax"`   // Consecutive matches needed for confirmation
	PointwiseHitCounterMax int              `validate:"gte=1"`                         // Per-point counter ceiling
	DetectionThreshold     float64          `validate:"gte=0,lt=1"`                    // Per-point score needed to count as a hit
	PastDetectionsLength   int              `validate:"gte=0"`                         // Matched detections kept for re-identification
	Assignment             AssignmentMethod `validate:"oneof=greedy hungarian"`        // Solver
	LabelPolicy            LabelPolicy      `validate:"oneof=latest frozen"`           // Label reporting
	ParallelDistanceMin    int              `validate:"gte=0"`                         // Matrix cells above which distances run concurrently; 0 disables
}

var validate = validator.New()

// Validate checks every field of the configuration.
func (c TrackerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidConfig, fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// DefaultTrackerConfig returns the built-in tracker defaults (distance 30,
// hit counter max 15, initialization delay 7, point-wise max 4, detection
// threshold 0.1, four past detections, greedy assignment).
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromTuning(config.DefaultTuningConfig())
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		DistanceThreshold:      cfg.GetDistanceThreshold(),
		HitCounterMax:          cfg.GetHitCounterMax(),
		InitializationDelay:    cfg.GetInitializationDelay(),
		PointwiseHitCounterMax: cfg.GetPointwiseHitCounterMax(),
		DetectionThreshold:     cfg.GetDetectionThreshold(),
		PastDetectionsLength:   cfg.GetPastDetectionsLength(),
		Assignment:             AssignmentMethod(cfg.GetAssignment()),
		LabelPolicy:            LabelPolicy(cfg.GetLabelPolicy()),
		ParallelDistanceMin:    cfg.GetParallelDistanceMin(),
	}
}

// confirmAfter is the number of consecutive matches (creation included)
// a tentative track needs.
func (c TrackerConfig) confirmAfter() int {
	if c.InitializationDelay < 1 {
		return 1
	}
	return c.InitializationDelay
}
