package l1detect

import (
	"fmt"
	"math"
)

// Point is a 2D image-space coordinate in pixels.
type Point struct {
	X float64
	Y float64
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Detection is a single object observation in one frame.
//
// Points and Scores are parallel: Scores[i] is the confidence of Points[i].
// In bbox mode a detection has two points (top-left, bottom-right) sharing
// the same score; in centroid mode it has one.
type Detection struct {
	Points []Point
	Scores []float64
	Label  string
}

// Clone returns a deep copy of the detection.
func (d Detection) Clone() Detection {
	return Detection{
		Points: append([]Point(nil), d.Points...),
		Scores: append([]float64(nil), d.Scores...),
		Label:  d.Label,
	}
}

// Finite reports whether every point of the detection is finite.
func (d Detection) Finite() bool {
	for _, p := range d.Points {
		if !p.IsFinite() {
			return false
		}
	}
	return true
}

// BBox returns the axis-aligned box spanned by the detection's points.
// A single-point detection yields a degenerate box.
func (d Detection) BBox() [4]float64 {
	if len(d.Points) == 0 {
		return [4]float64{}
	}
	box := [4]float64{d.Points[0].X, d.Points[0].Y, d.Points[0].X, d.Points[0].Y}
	for _, p := range d.Points[1:] {
		box[0] = math.Min(box[0], p.X)
		box[1] = math.Min(box[1], p.Y)
		box[2] = math.Max(box[2], p.X)
		box[3] = math.Max(box[3], p.Y)
	}
	return box
}

// TrackPointsMode selects how a bounding box is reduced to track points.
type TrackPointsMode string

const (
	TrackPointsBBox     TrackPointsMode = "bbox"     // Two corner points
	TrackPointsCentroid TrackPointsMode = "centroid" // Single centre point
)

// Valid reports whether m is a known mode.
func (m TrackPointsMode) Valid() bool {
	return m == TrackPointsBBox || m == TrackPointsCentroid
}

// RawFrame is one frame of detector output as three parallel collections.
// Boxes are [x1, y1, x2, y2] in pixels.
type RawFrame struct {
	Boxes    [][4]float64
	Scores   []float64
	ClassIDs []int
}

// Len returns the number of usable entries, i.e. the shortest of the three
// parallel collections.
func (r RawFrame) Len() int {
	n := len(r.Boxes)
	if len(r.Scores) < n {
		n = len(r.Scores)
	}
	if len(r.ClassIDs) < n {
		n = len(r.ClassIDs)
	}
	return n
}

// ClassNames maps detector class ids to human-readable labels.
type ClassNames []string

// Label returns the name for class id i, or "Class {i}" when the id has no
// entry.
func (c ClassNames) Label(i int) string {
	if i >= 0 && i < len(c) {
		return c[i]
	}
	return fmt.Sprintf("Class %d", i)
}
