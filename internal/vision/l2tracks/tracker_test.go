package l2tracks

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/sequence.report/internal/vision/l1detect"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

func testConfig() TrackerConfig {
	cfg := DefaultTrackerConfig()
	cfg.HitCounterMax = 3
	cfg.InitializationDelay = 1
	cfg.DistanceThreshold = 15
	cfg.PastDetectionsLength = 0
	return cfg
}

func newTestTracker(t *testing.T, cfg TrackerConfig) *Tracker {
	t.Helper()
	tr, err := NewTracker(cfg, nil)
	require.NoError(t, err)
	return tr
}

func centroid(x, y float64, label string) l1detect.Detection {
	return l1detect.Detection{
		Points: []l1detect.Point{{X: x, Y: y}},
		Scores: []float64{0.9},
		Label:  label,
	}
}

func box(x1, y1, x2, y2 float64, label string) l1detect.Detection {
	return l1detect.Detection{
		Points: []l1detect.Point{{X: x1, Y: y1}, {X: x2, Y: y2}},
		Scores: []float64{0.9, 0.9},
		Label:  label,
	}
}

func ids(tracks []TrackedObject) []int {
	out := make([]int, 0, len(tracks))
	for _, tr := range tracks {
		out = append(out, tr.ID)
	}
	return out
}

// =============================================================================
// Configuration
// =============================================================================

func TestNewTrackerRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*TrackerConfig)
	}{
		{"zero threshold", func(c *TrackerConfig) { c.DistanceThreshold = 0 }},
		{"zero hit counter max", func(c *TrackerConfig) { c.HitCounterMax = 0 }},
		{"delay not below max", func(c *TrackerConfig) { c.InitializationDelay = c.HitCounterMax }},
		{"negative delay", func(c *TrackerConfig) { c.InitializationDelay = -1 }},
		{"zero pointwise max", func(c *TrackerConfig) { c.PointwiseHitCounterMax = 0 }},
		{"detection threshold of one", func(c *TrackerConfig) { c.DetectionThreshold = 1 }},
		{"negative past length", func(c *TrackerConfig) { c.PastDetectionsLength = -1 }},
		{"unknown assignment", func(c *TrackerConfig) { c.Assignment = "auction" }},
		{"unknown label policy", func(c *TrackerConfig) { c.LabelPolicy = "vote" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultTrackerConfig()
			tt.mutate(&cfg)
			_, err := NewTracker(cfg, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestDefaultTrackerConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultTrackerConfig()
	assert.Equal(t, 30.0, cfg.DistanceThreshold)
	assert.Equal(t, 15, cfg.HitCounterMax)
	assert.Equal(t, 7, cfg.InitializationDelay)
	assert.Equal(t, 4, cfg.PointwiseHitCounterMax)
	assert.Equal(t, 0.1, cfg.DetectionThreshold)
	assert.Equal(t, 4, cfg.PastDetectionsLength)
	assert.Equal(t, AssignGreedy, cfg.Assignment)
	assert.Equal(t, LabelLatest, cfg.LabelPolicy)
	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestConfirmationDelay(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.HitCounterMax = 5
	cfg.InitializationDelay = 3
	tr := newTestTracker(t, cfg)

	det := []l1detect.Detection{centroid(100, 100, "cap")}
	assert.Empty(t, tr.Update(det), "frame 1 tentative")
	assert.Equal(t, []int{0}, tr.LastAssociations())
	assert.Empty(t, tr.Update(det), "frame 2 tentative")

	got := tr.Update(det)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].ID)
	assert.Equal(t, TrackConfirmed, got[0].State)
	assert.Equal(t, []int{1}, tr.LastAssociations())
	assert.Equal(t, 1, got[0].FirstFrame)
	assert.Equal(t, 2, got[0].Age)
}

func TestTentativeTracksNeverReportedOrNumbered(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.HitCounterMax = 5
	cfg.InitializationDelay = 3
	tr := newTestTracker(t, cfg)

	// A flicker seen for two frames is discarded without consuming an id.
	tr.Update([]l1detect.Detection{centroid(10, 10, "cap")})
	tr.Update([]l1detect.Detection{centroid(10, 10, "cap")})
	assert.Empty(t, tr.Update(nil))

	det := []l1detect.Detection{centroid(300, 300, "bottle")}
	tr.Update(det)
	tr.Update(det)
	got := tr.Update(det)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].ID)
	assert.Equal(t, "bottle", got[0].Label)

	stats := tr.Stats()
	assert.Equal(t, 2, stats.TracksCreated)
	assert.Equal(t, 1, stats.TracksConfirmed)
	assert.Equal(t, 1, stats.TracksRemoved)
	assert.Equal(t, 1, stats.Active)
}

func TestEvictionBound(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, testConfig()) // HitCounterMax 3
	tr.Update([]l1detect.Detection{centroid(50, 50, "cap")})

	for miss := 1; miss <= 3; miss++ {
		got := tr.Update(nil)
		require.Len(t, got, 1, "present after %d misses", miss)
		assert.Equal(t, TrackLost, got[0].State)
		assert.Equal(t, -miss, got[0].HitCounter)
	}
	assert.Empty(t, tr.Update(nil), "removed on the fourth consecutive miss")
	assert.Empty(t, tr.ActiveTracks())
}

func TestLostTrackRecovers(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, testConfig())
	det := []l1detect.Detection{centroid(50, 50, "cap")}
	tr.Update(det)
	tr.Update(det)
	tr.Update(nil)
	tr.Update(nil)

	got := tr.Update(det)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].ID)
	assert.Equal(t, TrackConfirmed, got[0].State)
	assert.Equal(t, 1, got[0].HitCounter, "a match after misses restarts from zero")
}

func TestHitCounterSaturates(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, testConfig())
	det := []l1detect.Detection{centroid(50, 50, "cap")}
	var got []TrackedObject
	for i := 0; i < 10; i++ {
		got = tr.Update(det)
	}
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].HitCounter)
}

func TestIdentityStableForMovingObjects(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, testConfig())
	for f := 0; f < 30; f++ {
		x := float64(f * 5)
		got := tr.Update([]l1detect.Detection{
			box(x, 0, x+20, 20, "cap"),
			box(x, 200, x+20, 220, "bottle"),
		})
		require.Len(t, got, 2, "frame %d", f)
		assert.Equal(t, []int{1, 2}, ids(got))
		assert.Equal(t, "cap", got[0].Label)
		assert.Equal(t, "bottle", got[1].Label)
	}
}

func TestIgnoredDetections(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, testConfig())
	low := centroid(10, 10, "cap")
	low.Scores = []float64{0.05}
	bad := centroid(math.NaN(), 10, "cap")
	mismatched := l1detect.Detection{Points: []l1detect.Point{{X: 1, Y: 1}}, Scores: nil}

	got := tr.Update([]l1detect.Detection{low, bad, mismatched, centroid(90, 90, "bottle")})
	require.Len(t, got, 1)
	assert.Equal(t, []int{0, 0, 0, 1}, tr.LastAssociations())
	assert.Equal(t, 1, tr.Stats().TracksCreated)
}

func TestPointCountMismatchNeverMatches(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, testConfig())
	tr.Update([]l1detect.Detection{box(0, 0, 10, 10, "cap")})
	got := tr.Update([]l1detect.Detection{centroid(0, 0, "cap")})
	assert.Equal(t, []int{1, 2}, ids(got))
	assert.Equal(t, TrackLost, got[0].State)
}

func TestNaNDistanceIsIneligible(t *testing.T) {
	t.Parallel()

	never := DistanceFunc(func(l1detect.Detection, TrackView) float64 { return math.NaN() })
	tr, err := NewTracker(testConfig(), never)
	require.NoError(t, err)

	tr.Update([]l1detect.Detection{centroid(0, 0, "cap")})
	got := tr.Update([]l1detect.Detection{centroid(0, 0, "cap")})
	assert.Equal(t, []int{1, 2}, ids(got))
	assert.Equal(t, []int{2}, tr.LastAssociations())
}

// =============================================================================
// Association
// =============================================================================

func TestGreedyTieBreaksByTrackCreationOrder(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, testConfig())
	tr.Update([]l1detect.Detection{centroid(0, 0, "a"), centroid(10, 0, "b")})

	tr.Update([]l1detect.Detection{centroid(5, 0, "c")})
	assert.Equal(t, []int{1}, tr.LastAssociations())
}

func TestGreedyTieBreaksByDetectionIndex(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, testConfig())
	tr.Update([]l1detect.Detection{centroid(0, 0, "a")})

	tr.Update([]l1detect.Detection{centroid(0, 5, "b"), centroid(0, -5, "c")})
	assert.Equal(t, []int{1, 2}, tr.LastAssociations())
}

func TestHungarianMinimisesTotalDistance(t *testing.T) {
	t.Parallel()

	seed := []l1detect.Detection{centroid(0, 0, "a"), centroid(10, 0, "b")}
	next := []l1detect.Detection{centroid(6, 0, "x"), centroid(15, 0, "y")}

	run := func(method AssignmentMethod) []int {
		cfg := testConfig()
		cfg.DistanceThreshold = 30
		cfg.Assignment = method
		tr := newTestTracker(t, cfg)
		tr.Update(seed)
		tr.Update(next)
		return tr.LastAssociations()
	}

	// Greedy takes the closest pair (x, b) first and leaves y to a.
	assert.Equal(t, []int{2, 1}, run(AssignGreedy))
	// Optimal total distance pairs x with a and y with b.
	assert.Equal(t, []int{1, 2}, run(AssignHungarian))
}

func TestDistanceThresholdIsInclusive(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, testConfig()) // threshold 15
	tr.Update([]l1detect.Detection{centroid(0, 0, "a")})
	tr.Update([]l1detect.Detection{centroid(15, 0, "a")})
	assert.Equal(t, []int{1}, tr.LastAssociations())
}

func TestParallelMatrixMatchesSerial(t *testing.T) {
	t.Parallel()

	frames := make([][]l1detect.Detection, 8)
	for f := range frames {
		for k := 0; k < 12; k++ {
			x := float64(k*100 + f*3)
			frames[f] = append(frames[f], box(x, 10, x+30, 40, "cap"))
		}
	}

	run := func(parallelMin int) [][]TrackedObject {
		cfg := testConfig()
		cfg.ParallelDistanceMin = parallelMin
		tr := newTestTracker(t, cfg)
		var out [][]TrackedObject
		for _, dets := range frames {
			out = append(out, tr.Update(dets))
		}
		return out
	}

	if diff := cmp.Diff(run(0), run(1)); diff != "" {
		t.Errorf("parallel distance matrix changed results (-serial +parallel):\n%s", diff)
	}
}

// =============================================================================
// Point-wise liveness and past detections
// =============================================================================

func TestDeadPointsIgnoredInDistance(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, testConfig())
	d := box(0, 0, 10, 10, "cap")
	d.Scores = []float64{0.9, 0.05}
	got := tr.Update([]l1detect.Detection{d})
	require.Len(t, got, 1)
	assert.Equal(t, []int{1, 0}, got[0].PointHitCounters)

	// The second corner is wildly off but dead, so only the first counts.
	far := box(1, 1, 900, 900, "cap")
	far.Scores = []float64{0.9, 0.05}
	got = tr.Update([]l1detect.Detection{far})
	assert.Equal(t, []int{1}, tr.LastAssociations())
	assert.Equal(t, []int{2, 0}, got[0].PointHitCounters)
}

func TestPointwiseCounterSaturates(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, testConfig()) // PointwiseHitCounterMax 4
	var got []TrackedObject
	for i := 0; i < 8; i++ {
		got = tr.Update([]l1detect.Detection{box(0, 0, 10, 10, "cap")})
	}
	require.Len(t, got, 1)
	assert.Equal(t, []int{4, 4}, got[0].PointHitCounters)
}

func TestPastDetectionsReidentifyLostTrack(t *testing.T) {
	t.Parallel()

	run := func(pastLen int) []int {
		cfg := testConfig()
		cfg.PastDetectionsLength = pastLen
		tr := newTestTracker(t, cfg)
		for _, x := range []float64{10, 20, 30} {
			tr.Update([]l1detect.Detection{centroid(x, 0, "cap")})
		}
		tr.Update(nil)
		tr.Update(nil)
		// The estimate has drifted to x=60; the object reappears where it was last seen.
		tr.Update([]l1detect.Detection{centroid(30, 0, "cap")})
		return tr.LastAssociations()
	}

	assert.Equal(t, []int{2}, run(0), "no memory: a new identity")
	assert.Equal(t, []int{1}, run(4), "past detections recover the identity")
}

// =============================================================================
// Output semantics
// =============================================================================

func TestLabelPolicy(t *testing.T) {
	t.Parallel()

	run := func(policy LabelPolicy) string {
		cfg := testConfig()
		cfg.LabelPolicy = policy
		tr := newTestTracker(t, cfg)
		tr.Update([]l1detect.Detection{centroid(0, 0, "cap")})
		got := tr.Update([]l1detect.Detection{centroid(1, 0, "bottle")})
		require.Len(t, got, 1)
		return got[0].Label
	}

	assert.Equal(t, "bottle", run(LabelLatest))
	assert.Equal(t, "cap", run(LabelFrozen))
}

func TestFrozenLabelTakenAtConfirmation(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.HitCounterMax = 5
	cfg.InitializationDelay = 3
	cfg.LabelPolicy = LabelFrozen
	tr := newTestTracker(t, cfg)

	assert.Empty(t, tr.Update([]l1detect.Detection{centroid(0, 0, "label")}))
	assert.Empty(t, tr.Update([]l1detect.Detection{centroid(1, 0, "bottle")}))
	got := tr.Update([]l1detect.Detection{centroid(2, 0, "cap")})
	require.Len(t, got, 1)
	assert.Equal(t, "cap", got[0].Label)

	got = tr.Update([]l1detect.Detection{centroid(3, 0, "bottle")})
	require.Len(t, got, 1)
	assert.Equal(t, "cap", got[0].Label)
}

func TestUpdateReturnsCopies(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, testConfig())
	got := tr.Update([]l1detect.Detection{box(0, 0, 10, 10, "cap")})
	require.Len(t, got, 1)
	got[0].Estimate[0].X = 999
	got[0].LastDetection.Points[0].X = 999
	got[0].PointHitCounters[0] = 99

	again := tr.ActiveTracks()
	require.Len(t, again, 1)
	assert.Equal(t, 0.0, again[0].Estimate[0].X)
	assert.Equal(t, 0.0, again[0].LastDetection.Points[0].X)
	assert.Equal(t, 1, again[0].PointHitCounters[0])
}

func TestActiveTracksAscendingIDs(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, testConfig())
	var dets []l1detect.Detection
	for k := 0; k < 6; k++ {
		dets = append(dets, centroid(float64(k*100), 0, "cap"))
	}
	got := tr.Update(dets)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, ids(got))
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, tr.LastAssociations())
}

func TestReset(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, testConfig())
	tr.Update([]l1detect.Detection{centroid(0, 0, "cap")})
	tr.Update([]l1detect.Detection{centroid(0, 0, "cap"), centroid(500, 0, "bottle")})
	require.Len(t, tr.ActiveTracks(), 2)

	tr.Reset()
	assert.Empty(t, tr.ActiveTracks())
	assert.Nil(t, tr.LastAssociations())
	assert.Equal(t, 0, tr.Frame())
	assert.Equal(t, TrackerStats{}, tr.Stats())

	got := tr.Update([]l1detect.Detection{centroid(500, 0, "bottle")})
	assert.Equal(t, []int{1}, ids(got))
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	o := TrackedObject{ID: 4, Label: "cap", State: TrackLost, HitCounter: -2}
	assert.Equal(t, "track 4 (cap, lost, h=-2)", o.Describe())
}
