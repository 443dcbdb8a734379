// Package pipeline is the per-frame composition root: it pulls frames from
// a FrameSource, runs them through a Detector, and pushes the raw output
// through the detection adapter (l1detect), tracker (l2tracks), order
// engine (l3order) and history recorder before fanning the result out to
// Sinks.
//
// Processing is strictly sequential. Each ProcessFrame call is one atomic
// step; Run observes cancellation only between frames, so the recorder is
// always exportable after Run returns. Layer packages never import
// pipeline.
package pipeline
