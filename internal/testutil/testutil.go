// Package testutil provides shared test helpers and fixtures.
package testutil

import (
	"net/http"
	"net/http/httptest"

	"github.com/banshee-data/sequence.report/internal/vision/l1detect"
)

// LoopbackAddr is the RemoteAddr given to test requests so debug routes
// guarded to local callers accept them.
const LoopbackAddr = "127.0.0.1:40000"

// NewLoopbackRequest creates a test request that appears to come from
// localhost.
func NewLoopbackRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = LoopbackAddr
	return req
}

// Serve runs req through h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// Box is one detector box in a scripted frame: a 40x40 square whose left
// edge is at X.
type Box struct {
	X     float64
	Class int
}

// RawFrame builds a detector frame from boxes, every one scored 0.9.
func RawFrame(boxes ...Box) l1detect.RawFrame {
	var raw l1detect.RawFrame
	for _, b := range boxes {
		raw.Boxes = append(raw.Boxes, [4]float64{b.X, 10, b.X + 40, 50})
		raw.Scores = append(raw.Scores, 0.9)
		raw.ClassIDs = append(raw.ClassIDs, b.Class)
	}
	return raw
}
