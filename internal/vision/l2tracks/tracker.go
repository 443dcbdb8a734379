package l2tracks

import (
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/sequence.report/internal/vision/l1detect"
)

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // New track, needs confirmation
	TrackConfirmed TrackState = "confirmed" // Matched this frame, has a public id
	TrackLost      TrackState = "lost"      // Confirmed but missed this frame
	TrackRemoved   TrackState = "removed"   // Evicted; never reported again
)

// TrackedObject is the public value copy of an active track.
type TrackedObject struct {
	ID    int // Public id, assigned at confirmation starting from 1
	Label string
	State TrackState

	Estimate      []l1detect.Point   // Current position estimate
	LastDetection l1detect.Detection // Most recent matched detection

	HitCounter       int   // In [-HitCounterMax, HitCounterMax]
	PointHitCounters []int // Per-point liveness counters
	FirstFrame       int   // Frame the track was created on
	LastMatchedFrame int
	Age              int // Frames since creation
}

// TrackerStats holds lifetime counters since construction or the last Reset.
type TrackerStats struct {
	Frames          int `json:"frames"`
	TracksCreated   int `json:"tracks_created"`
	TracksConfirmed int `json:"tracks_confirmed"`
	TracksRemoved   int `json:"tracks_removed"`
	Active          int `json:"active"`
	Tentative       int `json:"tentative"`
}

type track struct {
	serial int64 // Creation order, also the tie-break key
	id     int
	state  TrackState
	label  string

	estimate  []l1detect.Point
	velocity  []l1detect.Point // Per-point displacement per frame
	lastMatch []l1detect.Point
	lastDet   l1detect.Detection
	past      *ring[l1detect.Detection]

	hitCounter int
	streak     int // Consecutive matches while tentative
	pointHits  []int

	firstFrame     int
	lastMatchFrame int
}

func (tr *track) view() TrackView {
	live := make([]bool, len(tr.pointHits))
	for i, h := range tr.pointHits {
		live[i] = h > 0
	}
	return TrackView{
		ID:       tr.id,
		State:    tr.state,
		Label:    tr.label,
		Estimate: tr.estimate,
		Live:     live,
	}
}

func (tr *track) snapshot(frame int) TrackedObject {
	return TrackedObject{
		ID:               tr.id,
		Label:            tr.label,
		State:            tr.state,
		Estimate:         append([]l1detect.Point(nil), tr.estimate...),
		LastDetection:    tr.lastDet.Clone(),
		HitCounter:       tr.hitCounter,
		PointHitCounters: append([]int(nil), tr.pointHits...),
		FirstFrame:       tr.firstFrame,
		LastMatchedFrame: tr.lastMatchFrame,
		Age:              frame - tr.firstFrame,
	}
}

// Tracker maintains track identities across frames. Update is the only
// mutating entry point; readers may call ActiveTracks, LastAssociations
// and Stats concurrently.
type Tracker struct {
	cfg  TrackerConfig
	dist Distance

	tracks     []*track // Creation order
	nextID     int
	nextSerial int64
	frame      int

	// lastAssociations[i] is the public id detection i of the last frame
	// fed, or 0 when it was ignored or fed a tentative track.
	lastAssociations []int

	stats TrackerStats

	mu sync.RWMutex
}

// NewTracker validates cfg and returns an empty tracker. A nil dist selects
// EuclideanDistance.
func NewTracker(cfg TrackerConfig, dist Distance) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dist == nil {
		dist = EuclideanDistance
	}
	if b, ok := dist.(BoundedDistance); ok && cfg.DistanceThreshold > b.MaxDistance() {
		return nil, fmt.Errorf("%w: distance_threshold %v exceeds the distance ceiling %v",
			ErrInvalidConfig, cfg.DistanceThreshold, b.MaxDistance())
	}
	return &Tracker{cfg: cfg, dist: dist, nextID: 1}, nil
}

// Config returns the tracker configuration.
func (t *Tracker) Config() TrackerConfig {
	return t.cfg
}

// Reset clears all tracks and restarts id assignment from 1.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = nil
	t.nextID = 1
	t.nextSerial = 0
	t.frame = 0
	t.lastAssociations = nil
	t.stats = TrackerStats{}
}

// Update processes one frame of detections and returns the active
// (confirmed and lost) tracks in ascending id order.
func (t *Tracker) Update(dets []l1detect.Detection) []TrackedObject {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.frame++
	t.stats.Frames++

	// Step 1: Drop detections that can never match or seed a track.
	eligible := make([]int, 0, len(dets))
	for i, d := range dets {
		if t.usable(d) {
			eligible = append(eligible, i)
		}
	}

	// Step 2: Advance estimates by their per-frame velocity.
	for _, tr := range t.tracks {
		for i := range tr.estimate {
			if i < len(tr.velocity) {
				tr.estimate[i].X += tr.velocity[i].X
				tr.estimate[i].Y += tr.velocity[i].Y
			}
		}
	}

	// Step 3: Associate.
	matrix := t.distanceMatrix(dets, eligible)
	var matches map[int]int
	if t.cfg.Assignment == AssignHungarian {
		matches = t.assignHungarian(matrix, eligible)
	} else {
		matches = t.assignGreedy(matrix, eligible)
	}

	// Steps 4 and 5: Update matched tracks and handle unmatched ones, in
	// creation order so ids confirmed in the same frame are deterministic.
	matchOf := make([]int, len(t.tracks))
	for j := range matchOf {
		matchOf[j] = -1
	}
	for detIdx, j := range matches {
		matchOf[j] = detIdx
	}
	detTrack := make(map[int]*track, len(eligible))
	for j, tr := range t.tracks {
		if detIdx := matchOf[j]; detIdx >= 0 {
			t.hit(tr, dets[detIdx])
			detTrack[detIdx] = tr
			continue
		}
		t.miss(tr)
	}

	// Step 6: Initialise tracks from unmatched detections, in input order.
	for _, detIdx := range eligible {
		if _, ok := matches[detIdx]; ok {
			continue
		}
		detTrack[detIdx] = t.spawn(dets[detIdx])
	}

	// Step 7: Record associations against final ids.
	t.lastAssociations = make([]int, len(dets))
	for detIdx, tr := range detTrack {
		if tr.state == TrackConfirmed {
			t.lastAssociations[detIdx] = tr.id
		}
	}

	// Step 8: Cleanup removed tracks.
	kept := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.state == TrackRemoved {
			t.stats.TracksRemoved++
			continue
		}
		kept = append(kept, tr)
	}
	for i := len(kept); i < len(t.tracks); i++ {
		t.tracks[i] = nil
	}
	t.tracks = kept

	return t.activeLocked()
}

// usable reports whether a detection may take part in association: it
// needs finite points, matching score count, and at least one score above
// the detection threshold.
func (t *Tracker) usable(d l1detect.Detection) bool {
	if len(d.Points) == 0 || len(d.Points) != len(d.Scores) || !d.Finite() {
		return false
	}
	for _, s := range d.Scores {
		if s > t.cfg.DetectionThreshold {
			return true
		}
	}
	return false
}

func (t *Tracker) hit(tr *track, det l1detect.Detection) {
	h := tr.hitCounter
	if h < 0 {
		h = 0
	}
	tr.hitCounter = min(h+1, t.cfg.HitCounterMax)

	alive := false
	for i := range tr.pointHits {
		if det.Scores[i] > t.cfg.DetectionThreshold {
			tr.pointHits[i] = min(tr.pointHits[i]+1, t.cfg.PointwiseHitCounterMax)
		} else if tr.pointHits[i] > 0 {
			tr.pointHits[i]--
		}
		if tr.pointHits[i] > 0 {
			alive = true
		}
	}
	if !alive {
		tr.state = TrackRemoved
		return
	}

	gap := t.frame - tr.lastMatchFrame
	for i, p := range det.Points {
		if gap > 0 {
			tr.velocity[i] = l1detect.Point{
				X: (p.X - tr.lastMatch[i].X) / float64(gap),
				Y: (p.Y - tr.lastMatch[i].Y) / float64(gap),
			}
		}
		tr.lastMatch[i] = p
		tr.estimate[i] = p
	}
	tr.lastMatchFrame = t.frame
	tr.lastDet = det.Clone()
	if tr.past != nil {
		tr.past.add(tr.lastDet)
	}
	// A frozen label keeps following detections until confirmation.
	if t.cfg.LabelPolicy != LabelFrozen || tr.state == TrackTentative {
		tr.label = det.Label
	}

	switch tr.state {
	case TrackTentative:
		tr.streak++
		t.maybeConfirm(tr)
	case TrackLost:
		tr.state = TrackConfirmed
	}
}

func (t *Tracker) miss(tr *track) {
	if tr.state == TrackTentative {
		tr.state = TrackRemoved
		return
	}
	h := tr.hitCounter
	if h > 0 {
		h = 0
	}
	tr.hitCounter = h - 1
	if tr.hitCounter < -t.cfg.HitCounterMax {
		tr.state = TrackRemoved
		return
	}
	tr.state = TrackLost
}

func (t *Tracker) spawn(det l1detect.Detection) *track {
	t.nextSerial++
	n := len(det.Points)
	tr := &track{
		serial:         t.nextSerial,
		state:          TrackTentative,
		label:          det.Label,
		estimate:       append([]l1detect.Point(nil), det.Points...),
		velocity:       make([]l1detect.Point, n),
		lastMatch:      append([]l1detect.Point(nil), det.Points...),
		lastDet:        det.Clone(),
		hitCounter:     1,
		streak:         1,
		pointHits:      make([]int, n),
		firstFrame:     t.frame,
		lastMatchFrame: t.frame,
	}
	for i, s := range det.Scores {
		if s > t.cfg.DetectionThreshold {
			tr.pointHits[i] = 1
		}
	}
	if t.cfg.PastDetectionsLength > 0 {
		tr.past = newRing[l1detect.Detection](t.cfg.PastDetectionsLength)
		tr.past.add(tr.lastDet)
	}
	t.tracks = append(t.tracks, tr)
	t.stats.TracksCreated++
	t.maybeConfirm(tr)
	return tr
}

func (t *Tracker) maybeConfirm(tr *track) {
	if tr.state != TrackTentative || tr.streak < t.cfg.confirmAfter() {
		return
	}
	tr.state = TrackConfirmed
	tr.id = t.nextID
	t.nextID++
	t.stats.TracksConfirmed++
}

func (t *Tracker) activeLocked() []TrackedObject {
	out := make([]TrackedObject, 0, len(t.tracks))
	for _, tr := range t.tracks {
		if tr.state == TrackConfirmed || tr.state == TrackLost {
			out = append(out, tr.snapshot(t.frame))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveTracks returns copies of the confirmed and lost tracks in ascending
// id order.
func (t *Tracker) ActiveTracks() []TrackedObject {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.activeLocked()
}

// LastAssociations returns a copy of the detection index → public id
// mapping for the most recent frame.
func (t *Tracker) LastAssociations() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]int(nil), t.lastAssociations...)
}

// Stats returns lifetime counters together with the current population.
func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.stats
	for _, tr := range t.tracks {
		switch tr.state {
		case TrackConfirmed, TrackLost:
			s.Active++
		case TrackTentative:
			s.Tentative++
		}
	}
	return s
}

// Frame returns the number of frames processed.
func (t *Tracker) Frame() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frame
}

// Describe renders a short human-readable summary of a tracked object.
func (o TrackedObject) Describe() string {
	return fmt.Sprintf("track %d (%s, %s, h=%d)", o.ID, o.Label, o.State, o.HitCounter)
}
