package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Built-in fallbacks used by the Get* accessors when a field is absent.
const (
	defaultConfThresh             = 0.35
	defaultTrackPoints            = "bbox"
	defaultDistanceThreshold      = 30.0
	defaultHitCounterMax          = 15
	defaultPointwiseHitCounterMax = 4
	defaultDetectionThreshold     = 0.1
	defaultPastDetectionsLength   = 4
	defaultAssignment             = "greedy"
	defaultLabelPolicy            = "latest"
	defaultParallelDistanceMin    = 4096
)

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// TuningConfig is the root configuration for a tracking session. Every
// field is optional; the Get* methods supply defaults for anything the
// file leaves out, so partial configs are safe.
type TuningConfig struct {
	// Detection adapter
	ConfThresh      *float64 `json:"conf_thresh,omitempty" yaml:"conf_thresh,omitempty"`
	TrackPoints     *string  `json:"track_points,omitempty" yaml:"track_points,omitempty"` // "bbox" or "centroid"
	ClassesToDetect []string `json:"classes_to_detect,omitempty" yaml:"classes_to_detect,omitempty"`

	// Tracker
	DistanceThreshold      *float64 `json:"distance_threshold,omitempty" yaml:"distance_threshold,omitempty"`
	HitCounterMax          *int     `json:"hit_counter_max,omitempty" yaml:"hit_counter_max,omitempty"`
	InitializationDelay    *int     `json:"initialization_delay,omitempty" yaml:"initialization_delay,omitempty"`
	PointwiseHitCounterMax *int     `json:"pointwise_hit_counter_max,omitempty" yaml:"pointwise_hit_counter_max,omitempty"`
	DetectionThreshold     *float64 `json:"detection_threshold,omitempty" yaml:"detection_threshold,omitempty"`
	PastDetectionsLength   *int     `json:"past_detections_length,omitempty" yaml:"past_detections_length,omitempty"`
	Assignment             *string  `json:"assignment,omitempty" yaml:"assignment,omitempty"`     // "greedy" or "hungarian"
	LabelPolicy            *string  `json:"label_policy,omitempty" yaml:"label_policy,omitempty"` // "latest" or "frozen"
	ParallelDistanceMin    *int     `json:"parallel_distance_min,omitempty" yaml:"parallel_distance_min,omitempty"`

	// Order verification
	ExpectedOrder  []string `json:"expected_order,omitempty" yaml:"expected_order,omitempty"`
	ToleranceLimit *int     `json:"tolerance_limit,omitempty" yaml:"tolerance_limit,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every optional field
// populated from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		ConfThresh:             ptrFloat64(defaultConfThresh),
		TrackPoints:            ptrString(defaultTrackPoints),
		DistanceThreshold:      ptrFloat64(defaultDistanceThreshold),
		HitCounterMax:          ptrInt(defaultHitCounterMax),
		InitializationDelay:    ptrInt(defaultHitCounterMax / 2),
		PointwiseHitCounterMax: ptrInt(defaultPointwiseHitCounterMax),
		DetectionThreshold:     ptrFloat64(defaultDetectionThreshold),
		PastDetectionsLength:   ptrInt(defaultPastDetectionsLength),
		Assignment:             ptrString(defaultAssignment),
		LabelPolicy:            ptrString(defaultLabelPolicy),
		ParallelDistanceMin:    ptrInt(defaultParallelDistanceMin),
		ToleranceLimit:         ptrInt(defaultHitCounterMax / 2),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON or YAML file. The
// format is chosen by extension (.json, .yaml, .yml) and the file must be
// under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/vision/l2tracks/
		"../../../../" + DefaultConfigPath,    // from internal/vision/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set. Cross-field rules that depend
// on defaults (initialization delay below hit counter max) are checked
// against the resolved values.
func (c *TuningConfig) Validate() error {
	if c.ConfThresh != nil && (*c.ConfThresh < 0 || *c.ConfThresh >= 1) {
		return fmt.Errorf("conf_thresh must be in [0, 1), got %f", *c.ConfThresh)
	}
	if c.TrackPoints != nil && *c.TrackPoints != "bbox" && *c.TrackPoints != "centroid" {
		return fmt.Errorf("track_points must be \"bbox\" or \"centroid\", got %q", *c.TrackPoints)
	}
	if c.DistanceThreshold != nil && *c.DistanceThreshold <= 0 {
		return fmt.Errorf("distance_threshold must be positive, got %f", *c.DistanceThreshold)
	}
	if c.HitCounterMax != nil && *c.HitCounterMax <= 0 {
		return fmt.Errorf("hit_counter_max must be positive, got %d", *c.HitCounterMax)
	}
	if c.InitializationDelay != nil && *c.InitializationDelay < 0 {
		return fmt.Errorf("initialization_delay must be non-negative, got %d", *c.InitializationDelay)
	}
	if c.GetInitializationDelay() >= c.GetHitCounterMax() {
		return fmt.Errorf("initialization_delay (%d) must be less than hit_counter_max (%d)",
			c.GetInitializationDelay(), c.GetHitCounterMax())
	}
	if c.PointwiseHitCounterMax != nil && *c.PointwiseHitCounterMax <= 0 {
		return fmt.Errorf("pointwise_hit_counter_max must be positive, got %d", *c.PointwiseHitCounterMax)
	}
	if c.DetectionThreshold != nil && (*c.DetectionThreshold < 0 || *c.DetectionThreshold >= 1) {
		return fmt.Errorf("detection_threshold must be in [0, 1), got %f", *c.DetectionThreshold)
	}
	if c.PastDetectionsLength != nil && *c.PastDetectionsLength < 0 {
		return fmt.Errorf("past_detections_length must be non-negative, got %d", *c.PastDetectionsLength)
	}
	if c.Assignment != nil && *c.Assignment != "greedy" && *c.Assignment != "hungarian" {
		return fmt.Errorf("assignment must be \"greedy\" or \"hungarian\", got %q", *c.Assignment)
	}
	if c.LabelPolicy != nil && *c.LabelPolicy != "latest" && *c.LabelPolicy != "frozen" {
		return fmt.Errorf("label_policy must be \"latest\" or \"frozen\", got %q", *c.LabelPolicy)
	}
	if c.ParallelDistanceMin != nil && *c.ParallelDistanceMin < 0 {
		return fmt.Errorf("parallel_distance_min must be non-negative, got %d", *c.ParallelDistanceMin)
	}
	for i, label := range c.ExpectedOrder {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("expected_order[%d] is empty", i)
		}
	}
	if c.ToleranceLimit != nil && *c.ToleranceLimit < 0 {
		return fmt.Errorf("tolerance_limit must be non-negative, got %d", *c.ToleranceLimit)
	}
	return nil
}

// GetConfThresh returns the conf_thresh value or the default.
func (c *TuningConfig) GetConfThresh() float64 {
	if c.ConfThresh == nil {
		return defaultConfThresh
	}
	return *c.ConfThresh
}

// GetTrackPoints returns the track_points value or the default.
func (c *TuningConfig) GetTrackPoints() string {
	if c.TrackPoints == nil {
		return defaultTrackPoints
	}
	return *c.TrackPoints
}

// GetClassesToDetect returns a copy of the class allow-list; nil means all classes.
func (c *TuningConfig) GetClassesToDetect() []string {
	if len(c.ClassesToDetect) == 0 {
		return nil
	}
	return append([]string(nil), c.ClassesToDetect...)
}

// GetDistanceThreshold returns the distance_threshold value or the default.
func (c *TuningConfig) GetDistanceThreshold() float64 {
	if c.DistanceThreshold == nil {
		return defaultDistanceThreshold
	}
	return *c.DistanceThreshold
}

// GetHitCounterMax returns the hit_counter_max value or the default.
func (c *TuningConfig) GetHitCounterMax() int {
	if c.HitCounterMax == nil {
		return defaultHitCounterMax
	}
	return *c.HitCounterMax
}

// GetInitializationDelay returns the initialization_delay value, defaulting
// to half of the resolved hit_counter_max.
func (c *TuningConfig) GetInitializationDelay() int {
	if c.InitializationDelay == nil {
		return c.GetHitCounterMax() / 2
	}
	return *c.InitializationDelay
}

// GetPointwiseHitCounterMax returns the pointwise_hit_counter_max value or the default.
func (c *TuningConfig) GetPointwiseHitCounterMax() int {
	if c.PointwiseHitCounterMax == nil {
		return defaultPointwiseHitCounterMax
	}
	return *c.PointwiseHitCounterMax
}

// GetDetectionThreshold returns the detection_threshold value or the default.
func (c *TuningConfig) GetDetectionThreshold() float64 {
	if c.DetectionThreshold == nil {
		return defaultDetectionThreshold
	}
	return *c.DetectionThreshold
}

// GetPastDetectionsLength returns the past_detections_length value or the default.
func (c *TuningConfig) GetPastDetectionsLength() int {
	if c.PastDetectionsLength == nil {
		return defaultPastDetectionsLength
	}
	return *c.PastDetectionsLength
}

// GetAssignment returns the assignment solver name or the default.
func (c *TuningConfig) GetAssignment() string {
	if c.Assignment == nil {
		return defaultAssignment
	}
	return *c.Assignment
}

// GetLabelPolicy returns the label_policy value or the default.
func (c *TuningConfig) GetLabelPolicy() string {
	if c.LabelPolicy == nil {
		return defaultLabelPolicy
	}
	return *c.LabelPolicy
}

// GetParallelDistanceMin returns the parallel_distance_min value or the default.
func (c *TuningConfig) GetParallelDistanceMin() int {
	if c.ParallelDistanceMin == nil {
		return defaultParallelDistanceMin
	}
	return *c.ParallelDistanceMin
}

// GetExpectedOrder returns a copy of the expected first-appearance order.
func (c *TuningConfig) GetExpectedOrder() []string {
	return append([]string(nil), c.ExpectedOrder...)
}

// GetToleranceLimit returns the tolerance_limit value, defaulting to half
// of the resolved hit_counter_max.
func (c *TuningConfig) GetToleranceLimit() int {
	if c.ToleranceLimit == nil {
		return c.GetHitCounterMax() / 2
	}
	return *c.ToleranceLimit
}
