package l2tracks

import (
	"math"

	"github.com/banshee-data/sequence.report/internal/vision/l1detect"
	"gonum.org/v1/gonum/floats"
)

// TrackView is the read-only picture of a track handed to a Distance.
// Estimate and Live are parallel; Live[i] is false for points whose
// point-wise hit counter has dropped to zero.
type TrackView struct {
	ID       int // Public id, 0 while tentative
	State    TrackState
	Label    string
	Estimate []l1detect.Point
	Live     []bool
}

// Distance scores how far a detection is from a track. Smaller is closer.
// Returning NaN marks the pair as ineligible for matching. Implementations
// must be safe for concurrent use; the tracker may evaluate a frame's
// matrix from several goroutines.
type Distance interface {
	Distance(det l1detect.Detection, track TrackView) float64
}

// DistanceFunc adapts an ordinary function to the Distance interface.
type DistanceFunc func(det l1detect.Detection, track TrackView) float64

// Distance calls f(det, track).
func (f DistanceFunc) Distance(det l1detect.Detection, track TrackView) float64 {
	return f(det, track)
}

// livePairs flattens the live points of det and track into two parallel
// coordinate vectors. ok is false when the point counts differ or no point
// is live.
func livePairs(det l1detect.Detection, track TrackView) (a, b []float64, n int, ok bool) {
	if len(det.Points) != len(track.Estimate) || len(det.Points) == 0 {
		return nil, nil, 0, false
	}
	a = make([]float64, 0, 2*len(det.Points))
	b = make([]float64, 0, 2*len(det.Points))
	for i, p := range det.Points {
		if i < len(track.Live) && !track.Live[i] {
			continue
		}
		q := track.Estimate[i]
		a = append(a, p.X, p.Y)
		b = append(b, q.X, q.Y)
		n++
	}
	return a, b, n, n > 0
}

// EuclideanDistance is the Frobenius norm of the difference between the
// detection's points and the track estimate, over live points only.
var EuclideanDistance Distance = DistanceFunc(func(det l1detect.Detection, track TrackView) float64 {
	a, b, _, ok := livePairs(det, track)
	if !ok {
		return math.NaN()
	}
	return floats.Distance(a, b, 2)
})

// MeanEuclideanDistance is the mean per-point Euclidean distance over live points.
var MeanEuclideanDistance Distance = DistanceFunc(func(det l1detect.Detection, track TrackView) float64 {
	a, b, n, ok := livePairs(det, track)
	if !ok {
		return math.NaN()
	}
	var sum float64
	for i := 0; i < len(a); i += 2 {
		sum += floats.Distance(a[i:i+2], b[i:i+2], 2)
	}
	return sum / float64(n)
})

// BoundedDistance is implemented by distances whose finite values never
// exceed a known ceiling. NewTracker rejects a DistanceThreshold above it.
type BoundedDistance interface {
	Distance
	MaxDistance() float64
}

type iouDistance struct{}

// IoUDistance is 1 - IoU between a 2-point detection box and the track's
// 2-point estimate. Point liveness is ignored; a box is all or nothing.
// Boxes that do not overlap are ineligible (NaN), so values lie in [0, 1).
var IoUDistance BoundedDistance = iouDistance{}

func (iouDistance) Distance(det l1detect.Detection, track TrackView) float64 {
	if len(det.Points) != 2 || len(track.Estimate) != 2 {
		return math.NaN()
	}
	a := l1detect.Detection{Points: det.Points}.BBox()
	b := l1detect.Detection{Points: track.Estimate}.BBox()
	overlap := iou(a, b)
	if overlap <= 0 {
		return math.NaN()
	}
	return 1 - overlap
}

// MaxDistance returns 1.
func (iouDistance) MaxDistance() float64 { return 1 }

func iou(a, b [4]float64) float64 {
	ix := math.Min(a[2], b[2]) - math.Max(a[0], b[0])
	iy := math.Min(a[3], b[3]) - math.Max(a[1], b[1])
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// DistanceByName resolves a built-in distance: "euclidean", "mean_euclidean"
// or "iou". ok is false for unknown names.
func DistanceByName(name string) (d Distance, ok bool) {
	switch name {
	case "", "euclidean":
		return EuclideanDistance, true
	case "mean_euclidean":
		return MeanEuclideanDistance, true
	case "iou":
		return IoUDistance, true
	}
	return nil, false
}
