package l1detect

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned when an adapter configuration is rejected.
var ErrInvalidConfig = errors.New("l1detect: invalid adapter config")

// AdapterConfig controls detection filtering and point extraction.
type AdapterConfig struct {
	ConfThresh      float64         // Detections must score strictly above this
	Mode            TrackPointsMode // bbox or centroid
	ClassesToDetect []string        // Optional label allow-list; empty keeps all
}

// DefaultAdapterConfig returns the detector defaults: conf 0.35, bbox mode.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{ConfThresh: 0.35, Mode: TrackPointsBBox}
}

// Adapter converts raw detector frames into Detections. It holds no state
// beyond its configuration and is safe for concurrent use.
type Adapter struct {
	cfg     AdapterConfig
	classes ClassNames
	allow   map[string]struct{}
}

// NewAdapter validates cfg and returns an adapter using classes for label lookup.
func NewAdapter(cfg AdapterConfig, classes ClassNames) (*Adapter, error) {
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("%w: unknown track points mode %q", ErrInvalidConfig, cfg.Mode)
	}
	if math.IsNaN(cfg.ConfThresh) || cfg.ConfThresh < 0 || cfg.ConfThresh >= 1 {
		return nil, fmt.Errorf("%w: conf_thresh must be in [0, 1), got %v", ErrInvalidConfig, cfg.ConfThresh)
	}
	a := &Adapter{
		cfg:     cfg,
		classes: append(ClassNames(nil), classes...),
	}
	if len(cfg.ClassesToDetect) > 0 {
		a.allow = make(map[string]struct{}, len(cfg.ClassesToDetect))
		for _, name := range cfg.ClassesToDetect {
			a.allow[name] = struct{}{}
		}
	}
	return a, nil
}

// Config returns the adapter configuration.
func (a *Adapter) Config() AdapterConfig {
	return a.cfg
}

// Adapt filters raw and converts the surviving entries, preserving input
// order. Malformed entries are skipped rather than reported: unequal
// collection lengths are truncated to the shortest, and boxes with
// non-finite coordinates or scores are dropped.
func (a *Adapter) Adapt(raw RawFrame) []Detection {
	n := raw.Len()
	out := make([]Detection, 0, n)
	for i := 0; i < n; i++ {
		score := raw.Scores[i]
		if math.IsNaN(score) || score <= a.cfg.ConfThresh {
			continue
		}
		label := a.classes.Label(raw.ClassIDs[i])
		if a.allow != nil {
			if _, ok := a.allow[label]; !ok {
				continue
			}
		}
		box := raw.Boxes[i]
		var det Detection
		switch a.cfg.Mode {
		case TrackPointsCentroid:
			det = Detection{
				Points: []Point{{X: (box[0] + box[2]) / 2, Y: (box[1] + box[3]) / 2}},
				Scores: []float64{score},
				Label:  label,
			}
		default:
			det = Detection{
				Points: []Point{{X: box[0], Y: box[1]}, {X: box[2], Y: box[3]}},
				Scores: []float64{score, score},
				Label:  label,
			}
		}
		if !det.Finite() {
			continue
		}
		out = append(out, det)
	}
	return out
}
