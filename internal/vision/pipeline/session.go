package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/sequence.report/internal/config"
	"github.com/banshee-data/sequence.report/internal/monitoring"
	"github.com/banshee-data/sequence.report/internal/timeutil"
	"github.com/banshee-data/sequence.report/internal/vision/history"
	"github.com/banshee-data/sequence.report/internal/vision/l1detect"
	"github.com/banshee-data/sequence.report/internal/vision/l2tracks"
	"github.com/banshee-data/sequence.report/internal/vision/l3order"
	"github.com/sirupsen/logrus"
)

// Config holds the configuration of every stage in a session.
type Config struct {
	Adapter  l1detect.AdapterConfig
	Classes  l1detect.ClassNames // Detector class index → label
	Tracker  l2tracks.TrackerConfig
	Distance l2tracks.Distance // nil selects l2tracks.EuclideanDistance
	Order    l3order.Config
}

// ConfigFromTuning builds a session Config from a loaded TuningConfig.
// Classes are left empty; they come from the detector in use.
func ConfigFromTuning(t *config.TuningConfig) Config {
	return Config{
		Adapter: l1detect.AdapterConfig{
			ConfThresh:      t.GetConfThresh(),
			Mode:            l1detect.TrackPointsMode(t.GetTrackPoints()),
			ClassesToDetect: t.GetClassesToDetect(),
		},
		Tracker: l2tracks.TrackerConfigFromTuning(t),
		Order: l3order.Config{
			ExpectedOrder:  t.GetExpectedOrder(),
			ToleranceLimit: t.GetToleranceLimit(),
		},
	}
}

// DefaultConfig returns ConfigFromTuning(config.DefaultTuningConfig()).
func DefaultConfig() Config {
	return ConfigFromTuning(config.DefaultTuningConfig())
}

// FrameResult is everything one frame produced.
type FrameResult struct {
	Index        int
	Timestamp    time.Time
	Detections   []l1detect.Detection
	Associations []int // Detection index → public track id, 0 when none
	Tracks       []l2tracks.TrackedObject
	Records      []history.Record
	Annotations  []l3order.Annotation
	Verdict      l3order.Verdict
}

// Summary describes a session at the point Run returned.
type Summary struct {
	Frames           int           `json:"frames"`
	Records          int           `json:"records"`
	OrderBroken      bool          `json:"order_broken"`
	ToleranceCounter int           `json:"tolerance_counter"`
	Correctness      map[int]bool  `json:"correctness"`
	AppearanceOrder  []string      `json:"appearance_order"`
	Elapsed          time.Duration `json:"elapsed_ns"`
}

// Status is a point-in-time view of a session for monitors.
type Status struct {
	Frames          int                   `json:"frames"`
	StartedAt       time.Time             `json:"started_at"`
	ExpectedOrder   []string              `json:"expected_order"`
	AppearanceOrder []string              `json:"appearance_order"`
	Order           l3order.State         `json:"order"`
	Tracker         l2tracks.TrackerStats `json:"tracker"`
	LastVerdict     *l3order.Verdict      `json:"last_verdict,omitempty"`
	Records         int                   `json:"records"`
}

// Option customises a Session.
type Option func(*Session)

// WithClock sets the clock used to timestamp frames and time the session.
func WithClock(c timeutil.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithSinks appends sinks that receive every FrameResult in Run.
func WithSinks(sinks ...Sink) Option {
	return func(s *Session) { s.sinks = append(s.sinks, sinks...) }
}

// WithRecorder makes the session append to an existing recorder.
func WithRecorder(r *history.Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// Session owns the per-session state of every stage. ProcessFrame and Run
// must be driven by a single goroutine; Status, ActiveTracks and the
// accessors may be called concurrently.
type Session struct {
	cfg      Config
	adapter  *l1detect.Adapter
	tracker  *l2tracks.Tracker
	engine   *l3order.Engine
	recorder *history.Recorder
	clock    timeutil.Clock
	sinks    []Sink

	mu          sync.RWMutex
	started     time.Time
	frames      int
	lastVerdict *l3order.Verdict
}

// New validates cfg and builds a session. Every configuration error is
// reported here; no frame is processed with an invalid configuration.
func New(cfg Config, opts ...Option) (*Session, error) {
	adapter, err := l1detect.NewAdapter(cfg.Adapter, cfg.Classes)
	if err != nil {
		return nil, err
	}
	tracker, err := l2tracks.NewTracker(cfg.Tracker, cfg.Distance)
	if err != nil {
		return nil, err
	}
	engine, err := l3order.NewEngine(cfg.Order)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:     cfg,
		adapter: adapter,
		tracker: tracker,
		engine:  engine,
		clock:   timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.recorder == nil {
		s.recorder = history.NewRecorder()
	}
	s.started = s.clock.Now()
	return s, nil
}

// Recorder returns the session's history recorder.
func (s *Session) Recorder() *history.Recorder { return s.recorder }

// Tracker returns the session's tracker.
func (s *Session) Tracker() *l2tracks.Tracker { return s.tracker }

// Engine returns the session's order engine.
func (s *Session) Engine() *l3order.Engine { return s.engine }

// ProcessFrame runs one frame through adapt, track, analyze, record and
// annotate. Malformed detector output never fails a frame.
func (s *Session) ProcessFrame(frameIndex int, raw l1detect.RawFrame) FrameResult {
	ts := s.clock.Now()
	dets := s.adapter.Adapt(raw)
	tracks := s.tracker.Update(dets)
	assoc := s.tracker.LastAssociations()
	verdict := s.engine.Analyze(tracks)
	records := s.recorder.Append(frameIndex, tracks)
	annotations := s.engine.Annotate(dets, assoc)

	s.mu.Lock()
	s.frames++
	v := verdict
	s.lastVerdict = &v
	s.mu.Unlock()

	if verdict.Violation {
		monitoring.WithFields(logrus.Fields{
			"frame":     frameIndex,
			"track_id":  verdict.FrontierID,
			"expected":  verdict.Expected,
			"observed":  verdict.Observed,
			"tolerance": verdict.ToleranceCounter,
		}).Debug("order violation")
	}
	if verdict.BrokeThisFrame {
		monitoring.WithFields(logrus.Fields{
			"frame":     frameIndex,
			"track_id":  verdict.FrontierID,
			"tolerance": verdict.ToleranceCounter,
		}).Warn("order broken")
	}

	return FrameResult{
		Index:        frameIndex,
		Timestamp:    ts,
		Detections:   dets,
		Associations: assoc,
		Tracks:       tracks,
		Records:      records,
		Annotations:  annotations,
		Verdict:      verdict,
	}
}

// Run pulls frames from src until it returns io.EOF or ctx is cancelled.
// Cancellation is checked between frames and returned as ctx.Err(); a
// source, detector or sink error stops the run after the frames already
// processed. The Summary is valid in every case.
func (s *Session) Run(ctx context.Context, src FrameSource, det Detector) (Summary, error) {
	for {
		if err := ctx.Err(); err != nil {
			return s.Summary(), err
		}
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return s.Summary(), ctx.Err()
			}
			return s.Summary(), fmt.Errorf("read frame: %w", err)
		}
		raw, err := det.Detect(ctx, f)
		if err != nil {
			return s.Summary(), fmt.Errorf("detect frame %d: %w", f.Index, err)
		}
		res := s.ProcessFrame(f.Index, raw)
		for _, sink := range s.sinks {
			if err := sink.Consume(res); err != nil {
				return s.Summary(), fmt.Errorf("sink frame %d: %w", f.Index, err)
			}
		}
	}

	sum := s.Summary()
	monitoring.WithFields(logrus.Fields{
		"frames":       sum.Frames,
		"records":      sum.Records,
		"order_broken": sum.OrderBroken,
		"tolerance":    sum.ToleranceCounter,
	}).Info("session complete")
	return sum, nil
}

// Summary reports the session so far.
func (s *Session) Summary() Summary {
	st := s.engine.Snapshot()
	s.mu.RLock()
	frames, started := s.frames, s.started
	s.mu.RUnlock()
	return Summary{
		Frames:           frames,
		Records:          s.recorder.Len(),
		OrderBroken:      st.OrderBroken,
		ToleranceCounter: st.ToleranceCounter,
		Correctness:      st.Correctness,
		AppearanceOrder:  s.engine.AppearanceOrder(),
		Elapsed:          s.clock.Since(started),
	}
}

// Status returns a monitor view of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{Frames: s.frames, StartedAt: s.started}
	if s.lastVerdict != nil {
		v := *s.lastVerdict
		st.LastVerdict = &v
	}
	s.mu.RUnlock()

	st.ExpectedOrder = s.engine.Config().ExpectedOrder
	st.AppearanceOrder = s.engine.AppearanceOrder()
	st.Order = s.engine.Snapshot()
	st.Tracker = s.tracker.Stats()
	st.Records = s.recorder.Len()
	return st
}

// ActiveTracks returns the tracker's current active tracks.
func (s *Session) ActiveTracks() []l2tracks.TrackedObject {
	return s.tracker.ActiveTracks()
}
