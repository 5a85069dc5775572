package samrai

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the clustering engine. Configuration problems
// are reported as descriptive errors from NewBergerRigoutsos before any
// communication is posted; the sentinels below identify the fatal runtime
// conditions. None of them are recoverable mid-run: clustering correctness
// requires every process to reach consistent decisions, so any detected
// inconsistency aborts the whole distributed computation.
var (
	// ErrCommunicatorMismatch indicates the supplied communicator is not
	// congruent with the communicator the tag source is bound to.
	ErrCommunicatorMismatch = errors.New("samrai: communicator not congruent with tag source")

	// ErrTagPoolExhausted indicates the process ran out of unique message
	// tags. The tag space is sized from the process count and the bound on
	// concurrently live dendrogram nodes, so exhaustion means either a
	// sizing bug or pathologically deep recursion.
	ErrTagPoolExhausted = errors.New("samrai: message tag pool exhausted")

	// ErrInvariantViolation indicates the engine's own bookkeeping became
	// inconsistent (for example a split node with an empty child group).
	// It signals a bug, not a data problem.
	ErrInvariantViolation = errors.New("samrai: internal invariant violated")
)

// invariantf wraps ErrInvariantViolation with a formatted detail message.
func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvariantViolation}, args...)...)
}
