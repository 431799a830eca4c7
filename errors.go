package diagnostics

import "errors"

// The error taxonomy of the engine. Structural errors (ErrUnknownEntity,
// ErrDuplicateEntity, ErrUnknownParent, ErrCycleDetected, ErrHasChildren)
// indicate a misuse of the API and are surfaced directly to the caller; they
// must never be silently absorbed. ErrInsufficientData is informational: trait
// and health computations degrade the affected sub-score to a neutral value
// instead of aborting, but the condition stays visible on the TraitSnapshot
// for callers that need to distinguish "assessed as healthy" from "not enough
// data to assess".
//
// All errors returned by this package match these sentinels with errors.Is,
// possibly wrapped with the offending entity id.
var (
	// ErrUnknownEntity reports an operation against an entity id that is not
	// registered in the graph store. A query against an unregistered entity
	// returns this error rather than a default health value, to avoid
	// silently masking provisioning bugs.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrDuplicateEntity reports a registration with an id that already
	// exists.
	ErrDuplicateEntity = errors.New("duplicate entity")

	// ErrUnknownParent reports a registration naming a parent that is not
	// registered.
	ErrUnknownParent = errors.New("unknown parent")

	// ErrCycleDetected reports an ownership edge that would create a cycle
	// or give an entity a second parent. The graph store rejects such edges
	// at insertion time; the forest never tolerates cycles.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrHasChildren reports a detach of a composite entity that still owns
	// children, without the force flag that cascades detachment.
	ErrHasChildren = errors.New("entity has children")

	// ErrInsufficientData reports that a window did not contain enough
	// readings to assess a trait. This is a benign "not yet assessable"
	// state, not a hard failure.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNoData reports that an entity has never recorded a reading.
	ErrNoData = errors.New("no data")

	// ErrNotLeaf reports a reading submitted against a composite entity.
	// Readings attach to leaf entities only.
	ErrNotLeaf = errors.New("entity is not a leaf")
)
