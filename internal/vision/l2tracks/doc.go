// Package l2tracks owns Layer 2 (Tracks) of the vision data model.
//
// Responsibilities: frame-to-frame association of detections to tracks
// (greedy or Hungarian), track lifecycle (tentative, confirmed, lost,
// removed), hit-counter hysteresis, point-wise liveness, and stable
// public identifiers for confirmed tracks.
// Key types: Tracker, TrackerConfig, TrackedObject, Distance.
//
// Dependency rule: L2 may depend on L1, but never on L3 or above.
// No SQL/database code is allowed in this package.
package l2tracks
