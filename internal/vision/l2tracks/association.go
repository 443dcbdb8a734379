package l2tracks

import (
	"math"
	"runtime"
	"sort"

	"github.com/banshee-data/sequence.report/internal/vision/l1detect"
	"golang.org/x/sync/errgroup"
)

// candidate is an eligible detection/track pair.
type candidate struct {
	det    int
	track  int // index into the tracker's track slice
	serial int64
	dist   float64
}

// distanceMatrix computes d[det][track] for the frame. Ineligible pairs
// (NaN, or beyond the threshold) are stored as NaN. Large matrices are
// filled row-parallel.
func (t *Tracker) distanceMatrix(dets []l1detect.Detection, eligible []int) [][]float64 {
	views := make([]TrackView, len(t.tracks))
	pasts := make([][]TrackView, len(t.tracks))
	for j, tr := range t.tracks {
		views[j] = tr.view()
		if tr.state == TrackLost && tr.past != nil {
			for _, pd := range tr.past.items() {
				pv := views[j]
				pv.Estimate = pd.Points
				pasts[j] = append(pasts[j], pv)
			}
		}
	}

	matrix := make([][]float64, len(eligible))
	fillRow := func(r int) {
		det := dets[eligible[r]]
		row := make([]float64, len(views))
		for j := range views {
			if len(det.Points) != len(views[j].Estimate) {
				row[j] = math.NaN()
				continue
			}
			d := t.dist.Distance(det, views[j])
			for _, pv := range pasts[j] {
				if pd := t.dist.Distance(det, pv); !math.IsNaN(pd) && (math.IsNaN(d) || pd < d) {
					d = pd
				}
			}
			if math.IsNaN(d) || d > t.cfg.DistanceThreshold {
				d = math.NaN()
			}
			row[j] = d
		}
		matrix[r] = row
	}

	cells := len(eligible) * len(views)
	if t.cfg.ParallelDistanceMin > 0 && cells >= t.cfg.ParallelDistanceMin {
		var g errgroup.Group
		g.SetLimit(runtime.GOMAXPROCS(0))
		for r := range eligible {
			g.Go(func() error {
				fillRow(r)
				return nil
			})
		}
		_ = g.Wait() // rows never fail
	} else {
		for r := range eligible {
			fillRow(r)
		}
	}
	return matrix
}

// assignGreedy matches the closest eligible pairs first. Ties break by
// detection index, then by track creation order.
func (t *Tracker) assignGreedy(matrix [][]float64, eligible []int) map[int]int {
	var cands []candidate
	for r, row := range matrix {
		for j, d := range row {
			if math.IsNaN(d) {
				continue
			}
			cands = append(cands, candidate{det: eligible[r], track: j, serial: t.tracks[j].serial, dist: d})
		}
	}
	sort.Slice(cands, func(a, b int) bool {
		ca, cb := cands[a], cands[b]
		if ca.dist != cb.dist {
			return ca.dist < cb.dist
		}
		if ca.det != cb.det {
			return ca.det < cb.det
		}
		return ca.serial < cb.serial
	})

	matches := make(map[int]int)
	usedTrack := make(map[int]bool)
	for _, c := range cands {
		if _, ok := matches[c.det]; ok || usedTrack[c.track] {
			continue
		}
		matches[c.det] = c.track
		usedTrack[c.track] = true
	}
	return matches
}

// assignHungarian matches pairs so that the total distance is minimal.
func (t *Tracker) assignHungarian(matrix [][]float64, eligible []int) map[int]int {
	matches := make(map[int]int)
	if len(matrix) == 0 || len(t.tracks) == 0 {
		return matches
	}
	// Ineligible pairs are NaN in matrix, which the solver never assigns.
	for r, j := range hungarianAssign(matrix) {
		if j >= 0 {
			matches[eligible[r]] = j
		}
	}
	return matches
}
