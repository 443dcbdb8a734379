// Package replay reads and writes recorded detector output as JSON lines,
// so a session can be re-run without a camera or a model.
//
// Each line holds one frame:
//
//	{"frame":1,"boxes":[[x1,y1,x2,y2]],"scores":[0.9],"classes":[0]}
//
// An optional first line {"classes":["cap","bottle"]} carries the
// detector's class index to label lookup.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/sequence.report/internal/vision/l1detect"
	"github.com/banshee-data/sequence.report/internal/vision/pipeline"
)

// maxLineSize bounds a single recorded frame.
const maxLineSize = 4 << 20

// ErrFormat wraps every malformed-input error.
var ErrFormat = errors.New("replay: malformed recording")

type headerLine struct {
	Classes []string `json:"classes"`
}

type frameLine struct {
	Frame   *int         `json:"frame,omitempty"`
	Boxes   [][4]float64 `json:"boxes"`
	Scores  []float64    `json:"scores"`
	Classes []int        `json:"classes"`
}

// Source replays a recording as pipeline frames whose payload is an
// l1detect.RawFrame.
type Source struct {
	sc      *bufio.Scanner
	line    int
	frames  int
	classes l1detect.ClassNames

	primed  bool
	pending *frameLine
	err     error
}

var _ pipeline.FrameSource = (*Source)(nil)

// NewSource reads a recording from r.
func NewSource(r io.Reader) *Source {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Source{sc: sc}
}

// Classes returns the label lookup from the header line, or nil when the
// recording has none. It may be called before the first Next.
func (s *Source) Classes() (l1detect.ClassNames, error) {
	s.prime()
	if s.err != nil && !errors.Is(s.err, io.EOF) {
		return nil, s.err
	}
	return append(l1detect.ClassNames(nil), s.classes...), nil
}

// Next returns the next recorded frame, or io.EOF after the last one.
func (s *Source) Next(ctx context.Context) (pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Frame{}, err
	}
	s.prime()
	if s.pending != nil {
		fl := s.pending
		s.pending = nil
		return s.frame(fl), nil
	}
	if s.err != nil {
		return pipeline.Frame{}, s.err
	}
	text, err := s.nextLine()
	if err != nil {
		s.err = err
		return pipeline.Frame{}, err
	}
	fl, err := s.decodeFrame(text)
	if err != nil {
		s.err = err
		return pipeline.Frame{}, err
	}
	return s.frame(fl), nil
}

// prime consumes the first non-blank line, keeping it as a pending frame
// unless it is a header.
func (s *Source) prime() {
	if s.primed {
		return
	}
	s.primed = true
	text, err := s.nextLine()
	if err != nil {
		s.err = err
		return
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(text, &probe); err != nil {
		s.err = fmt.Errorf("%w: line %d: %w", ErrFormat, s.line, err)
		return
	}
	_, hasBoxes := probe["boxes"]
	_, hasFrame := probe["frame"]
	if !hasBoxes && !hasFrame {
		var h headerLine
		if err := json.Unmarshal(text, &h); err != nil {
			s.err = fmt.Errorf("%w: line %d: header: %w", ErrFormat, s.line, err)
			return
		}
		s.classes = h.Classes
		return
	}
	fl, err := s.decodeFrame(text)
	if err != nil {
		s.err = err
		return
	}
	s.pending = fl
}

func (s *Source) nextLine() ([]byte, error) {
	for s.sc.Scan() {
		s.line++
		text := bytes.TrimSpace(s.sc.Bytes())
		if len(text) == 0 {
			continue
		}
		return append([]byte(nil), text...), nil
	}
	if err := s.sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: line %d: %w", ErrFormat, s.line+1, err)
	}
	return nil, io.EOF
}

func (s *Source) decodeFrame(text []byte) (*frameLine, error) {
	var fl frameLine
	dec := json.NewDecoder(bytes.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fl); err != nil {
		return nil, fmt.Errorf("%w: line %d: %w", ErrFormat, s.line, err)
	}
	return &fl, nil
}

func (s *Source) frame(fl *frameLine) pipeline.Frame {
	s.frames++
	index := s.frames
	if fl.Frame != nil {
		index = *fl.Frame
	}
	return pipeline.Frame{
		Index: index,
		Payload: l1detect.RawFrame{
			Boxes:    fl.Boxes,
			Scores:   fl.Scores,
			ClassIDs: fl.Classes,
		},
	}
}

// ErrPayload is returned by Detector for frames it cannot unwrap.
var ErrPayload = errors.New("replay: frame payload is not a recorded detector output")

// Detector unwraps recorded detector output. It stands in for a model when
// frames come from a Source.
type Detector struct{}

var _ pipeline.Detector = Detector{}

// Detect returns the frame's recorded RawFrame.
func (Detector) Detect(_ context.Context, f pipeline.Frame) (l1detect.RawFrame, error) {
	switch p := f.Payload.(type) {
	case l1detect.RawFrame:
		return p, nil
	case *l1detect.RawFrame:
		if p != nil {
			return *p, nil
		}
	}
	return l1detect.RawFrame{}, fmt.Errorf("%w: frame %d has %T", ErrPayload, f.Index, f.Payload)
}
