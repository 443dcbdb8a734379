// Package l3order owns Layer 3 (Order) of the vision data model.
//
// Responsibilities: verifying that tracked identities appear in an
// expected first-appearance label sequence, prefix poisoning of later
// identities after a violation, tolerance hardening into a terminal
// order-broken flag, and pure annotation instructions for renderers.
// Key types: Engine, Verdict, State, Annotation.
//
// Dependency rule: L3 may depend on L1-L2. It never draws or performs I/O.
package l3order
