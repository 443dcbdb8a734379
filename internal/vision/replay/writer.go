package replay

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/banshee-data/sequence.report/internal/vision/l1detect"
)

// Writer produces recordings that Source reads back.
type Writer struct {
	enc    *json.Encoder
	frames int
}

// NewWriter writes a recording to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// WriteHeader writes the class lookup line. It must precede every frame.
func (w *Writer) WriteHeader(classes l1detect.ClassNames) error {
	if w.frames > 0 {
		return fmt.Errorf("replay: header after %d frames", w.frames)
	}
	if err := w.enc.Encode(headerLine{Classes: append([]string{}, classes...)}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// WriteFrame writes one frame.
func (w *Writer) WriteFrame(index int, raw l1detect.RawFrame) error {
	fl := frameLine{
		Frame:   &index,
		Boxes:   nonNil(raw.Boxes),
		Scores:  nonNil(raw.Scores),
		Classes: nonNil(raw.ClassIDs),
	}
	if err := w.enc.Encode(fl); err != nil {
		return fmt.Errorf("write frame %d: %w", index, err)
	}
	w.frames++
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
