package pipeline

import (
	"context"

	"github.com/banshee-data/sequence.report/internal/vision/l1detect"
)

// Frame is one unit pulled from a FrameSource. Payload is opaque to the
// pipeline and interpreted only by the Detector (an image, a recorded
// detector output, ...).
type Frame struct {
	Index   int // 1-based position in the stream
	Payload any
}

// FrameSource yields frames in order. Next returns io.EOF once the stream
// is exhausted.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// Detector turns a frame into the detector's three parallel collections.
type Detector interface {
	Detect(ctx context.Context, f Frame) (l1detect.RawFrame, error)
}

// Sink receives every processed frame, in order. A renderer, a persistence
// adapter or a live monitor feed are all sinks.
type Sink interface {
	Consume(res FrameResult) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(res FrameResult) error

// Consume calls f(res).
func (f SinkFunc) Consume(res FrameResult) error { return f(res) }
