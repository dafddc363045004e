package models

import "errors"

// Error taxonomy. Every fatal path wraps one of these so callers can
// classify failures without string matching.
var (
	// ErrUnresolvableRef means a branch or revision could not be resolved
	// by source control. Fatal; no partial record is written.
	ErrUnresolvableRef = errors.New("unresolvable source-control reference")

	// ErrMissingPrecondition means a stage was asked to run without its
	// required upstream state, e.g. an application build with no framework
	// build, or a test name absent from the project config.
	ErrMissingPrecondition = errors.New("missing precondition")

	// ErrCommandFailed means an external command exited non-zero or could
	// not be launched, in a stage where that is fatal.
	ErrCommandFailed = errors.New("command failed")

	// ErrMalformedRecord means a persisted record failed to parse. There is
	// no lenient recovery: the invalidation policy cannot reason about a
	// partially readable record.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrBrokenLineage means a record references an upstream id that does
	// not exist in the store. Treated as data corruption, never skipped.
	ErrBrokenLineage = errors.New("broken record lineage")
)
