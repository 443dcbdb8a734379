// Package l1detect owns Layer 1 (Detections) of the vision data model.
//
// Responsibilities: converting raw detector output (boxes, scores, class
// ids) into tracker-ready detections, confidence filtering, class
// allow-listing and point extraction (bbox corners or centroid).
// Key types: Detection, RawFrame, Adapter.
//
// Dependency rule: L1 depends on nothing above the standard library.
package l1detect
