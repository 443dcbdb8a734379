package l3order

import (
	"image/color"

	"github.com/banshee-data/sequence.report/internal/vision/l1detect"
)

// Mark is the correctness state an annotation conveys.
type Mark string

const (
	MarkCorrect   Mark = "correct"
	MarkIncorrect Mark = "incorrect"
	MarkUnknown   Mark = "unknown" // No recorded entry for the detection's identity
)

// Palette holds the annotation colours.
type Palette struct {
	Correct   color.RGBA
	Incorrect color.RGBA
	Fallback  color.RGBA
}

// DefaultPalette returns green for correct, red for incorrect and amber
// for identities with no recorded entry.
func DefaultPalette() Palette {
	return Palette{
		Correct:   color.RGBA{R: 61, G: 118, B: 12, A: 255},
		Incorrect: color.RGBA{R: 191, G: 8, B: 39, A: 255},
		Fallback:  color.RGBA{R: 245, G: 178, B: 71, A: 255},
	}
}

// Annotation is one drawing instruction for an external renderer.
type Annotation struct {
	Box     [4]float64 `json:"box"` // x1, y1, x2, y2
	Text    string     `json:"text"`
	TrackID int        `json:"track_id"` // 0 when the detection has no public identity
	Mark    Mark       `json:"mark"`
	Color   color.RGBA `json:"color"`
}

// Annotate maps each detection to a coloured box. assoc[i] is the public
// track id detection i fed this frame (0 for none), as reported by the
// tracker. Detections whose identity has no correctness entry get the
// fallback colour.
func (e *Engine) Annotate(dets []l1detect.Detection, assoc []int) []Annotation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p := e.cfg.Palette
	out := make([]Annotation, 0, len(dets))
	for i, det := range dets {
		a := Annotation{
			Box:   det.BBox(),
			Text:  det.Label,
			Mark:  MarkUnknown,
			Color: p.Fallback,
		}
		if i < len(assoc) && assoc[i] > 0 {
			a.TrackID = assoc[i]
			if ok, recorded := e.correctness[assoc[i]]; recorded {
				if ok {
					a.Mark, a.Color = MarkCorrect, p.Correct
				} else {
					a.Mark, a.Color = MarkIncorrect, p.Incorrect
				}
			}
		}
		out = append(out, a)
	}
	return out
}
