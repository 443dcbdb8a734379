package l3order

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/banshee-data/sequence.report/internal/vision/l2tracks"
)

// ErrInvalidConfig is returned by NewEngine when the configuration is rejected.
var ErrInvalidConfig = errors.New("l3order: invalid engine config")

// Config is the constructor-time configuration of an Engine.
type Config struct {
	ExpectedOrder  []string // Required first-appearance label sequence
	ToleranceLimit int      // Violations absorbed before the order is declared broken
	Palette        Palette  // Annotation colours; zero value selects DefaultPalette
}

// DefaultToleranceLimit returns the tolerance limit paired with a tracker's
// eviction patience: half of hit_counter_max.
func DefaultToleranceLimit(hitCounterMax int) int {
	return hitCounterMax / 2
}

// Validate checks the expected order and the tolerance limit.
func (c Config) Validate() error {
	if len(c.ExpectedOrder) == 0 {
		return fmt.Errorf("%w: expected order is empty", ErrInvalidConfig)
	}
	for i, label := range c.ExpectedOrder {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("%w: expected order entry %d is empty", ErrInvalidConfig, i)
		}
	}
	if c.ToleranceLimit < 0 {
		return fmt.Errorf("%w: tolerance limit must be non-negative, got %d", ErrInvalidConfig, c.ToleranceLimit)
	}
	return nil
}

// Verdict is the outcome of analysing one frame.
type Verdict struct {
	Frame            int    `json:"frame"`             // 1-based count of analysed frames
	FrontierID       int    `json:"frontier_id"`       // Highest active id this frame, 0 with no tracks
	Expected         string `json:"expected"`          // Expected label for the frontier, "" when out of range
	Observed         string `json:"observed"`          // Frontier track's current label
	InRange          bool   `json:"in_range"`          // Frontier id had an expected-order entry
	Correct          bool   `json:"correct"`           // Recorded correctness of the frontier after this frame
	Violation        bool   `json:"violation"`         // This frame added to the tolerance counter
	ToleranceCounter int    `json:"tolerance_counter"`
	OrderBroken      bool   `json:"order_broken"`
	BrokeThisFrame   bool   `json:"broke_this_frame"` // OrderBroken transitioned false → true on this frame
}

// Status is a short human-readable summary of the verdict.
func (v Verdict) Status() string {
	if v.OrderBroken {
		return "order broken"
	}
	return "order ok"
}

// State is a value copy of the engine's accumulated state.
type State struct {
	Correctness      map[int]bool `json:"correctness"`
	CurrentIndex     int          `json:"current_index"` // Last expected-order position consulted, -1 before any
	ToleranceCounter int          `json:"tolerance_counter"`
	OrderBroken      bool         `json:"order_broken"`
	FramesAnalysed   int          `json:"frames_analysed"`
}

// Engine tracks first-appearance order correctness across a session. It is
// owned by a single per-frame caller; Snapshot and the read-only accessors
// may be called concurrently with Analyze.
type Engine struct {
	cfg Config

	correctness      map[int]bool
	firstLabel       map[int]string
	currentIndex     int
	toleranceCounter int
	orderBroken      bool
	frames           int

	mu sync.RWMutex
}

// NewEngine validates cfg and returns an engine with empty state.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ExpectedOrder = append([]string(nil), cfg.ExpectedOrder...)
	if cfg.Palette == (Palette{}) {
		cfg.Palette = DefaultPalette()
	}
	return &Engine{
		cfg:          cfg,
		correctness:  make(map[int]bool),
		firstLabel:   make(map[int]string),
		currentIndex: -1,
	}, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	c := e.cfg
	c.ExpectedOrder = append([]string(nil), e.cfg.ExpectedOrder...)
	return c
}

// Analyze applies the frontier rule to one frame of active tracks. Only
// the track holding the highest id is examined.
func (e *Engine) Analyze(tracked []l2tracks.TrackedObject) Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.frames++
	v := Verdict{Frame: e.frames}

	frontier := -1
	for i, obj := range tracked {
		if frontier < 0 || obj.ID > tracked[frontier].ID {
			frontier = i
		}
	}
	if frontier < 0 || tracked[frontier].ID < 1 {
		v.ToleranceCounter = e.toleranceCounter
		v.OrderBroken = e.orderBroken
		return v
	}

	obj := tracked[frontier]
	id := obj.ID
	v.FrontierID = id
	v.Observed = obj.Label
	if _, seen := e.firstLabel[id]; !seen {
		e.firstLabel[id] = obj.Label
	}

	if id-1 >= len(e.cfg.ExpectedOrder) {
		// More identities than expected entries: fail closed.
		e.correctness[id] = false
	} else {
		v.InRange = true
		e.currentIndex = id - 1
		v.Expected = e.cfg.ExpectedOrder[id-1]

		if _, ok := e.correctness[id]; !ok {
			e.correctness[id] = true
		}
		if prev, ok := e.correctness[id-1]; ok && !prev {
			e.correctness[id] = false
		}
		if obj.Label != v.Expected {
			e.correctness[id] = false
			e.toleranceCounter++
			v.Violation = true
			if e.toleranceCounter > e.cfg.ToleranceLimit && !e.orderBroken {
				e.orderBroken = true
				v.BrokeThisFrame = true
			}
		}
	}

	v.Correct = e.correctness[id]
	v.ToleranceCounter = e.toleranceCounter
	v.OrderBroken = e.orderBroken
	return v
}

// Snapshot returns a value copy of the accumulated state.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c := make(map[int]bool, len(e.correctness))
	for id, ok := range e.correctness {
		c[id] = ok
	}
	return State{
		Correctness:      c,
		CurrentIndex:     e.currentIndex,
		ToleranceCounter: e.toleranceCounter,
		OrderBroken:      e.orderBroken,
		FramesAnalysed:   e.frames,
	}
}

// OrderBroken reports whether the order has been declared broken.
func (e *Engine) OrderBroken() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.orderBroken
}

// Correct returns the recorded correctness of id; ok is false when the id
// has never been the frontier.
func (e *Engine) Correct(id int) (correct, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	correct, ok = e.correctness[id]
	return correct, ok
}

// AppearanceOrder lists the label each frontier identity carried when it
// was first examined, in id order.
func (e *Engine) AppearanceOrder() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idList := make([]int, 0, len(e.firstLabel))
	for id := range e.firstLabel {
		idList = append(idList, id)
	}
	sort.Ints(idList)
	out := make([]string, 0, len(idList))
	for _, id := range idList {
		out = append(out, e.firstLabel[id])
	}
	return out
}
