package tilestream

import (
	"errors"
	"fmt"

	"github.com/tilecraft/tilestream/cache"
	"github.com/tilecraft/tilestream/model"
	"github.com/tilecraft/tilestream/pipeline"
	"github.com/tilecraft/tilestream/source"
)

var (
	// ErrValidation is returned for malformed keys, bounds, or spans.
	// Rejected before any state mutation.
	ErrValidation = errors.New("validation failed")

	// ErrCapacity is returned when the cache cannot free enough budget to
	// admit a resident entry.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrRejected is returned when the request queue is at capacity.
	// Not fatal; callers retry later.
	ErrRejected = errors.New("request rejected")

	// ErrNotFound is returned when a resource is absent from all sources.
	ErrNotFound = errors.New("resource not found")

	// ErrTransientIO wraps a fetch/decode failure. The worker layer
	// retries; the core only observes the final state transition.
	ErrTransientIO = errors.New("transient I/O failure")

	// ErrClosed is returned by operations on a closed Streamer.
	ErrClosed = errors.New("streamer closed")
)

// InvariantViolation reports corrupted core state (duplicate admission,
// broken ordering contract). It is a programming error: callers must treat
// it as fatal, not retry.
//
// The underlying detail can be accessed via errors.Unwrap.
type InvariantViolation struct {
	Op    string
	cause error
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %v", e.Op, e.cause)
}

func (e *InvariantViolation) Unwrap() error { return e.cause }

// translateError maps subpackage errors into the public taxonomy.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}

	// Invariant breakage is fatal, never retried.
	var cinv *cache.ErrInvariant
	if errors.As(err, &cinv) {
		return &InvariantViolation{Op: op, cause: err}
	}
	var qinv *pipeline.ErrInvariant
	if errors.As(err, &qinv) {
		return &InvariantViolation{Op: op, cause: err}
	}

	var capErr *cache.ErrCapacity
	if errors.As(err, &capErr) {
		return fmt.Errorf("%w: %w", ErrCapacity, err)
	}
	if errors.Is(err, pipeline.ErrQueueFull) {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	if errors.Is(err, source.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, cache.ErrUnknownKey) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, model.ErrInvalidBounds) || errors.Is(err, model.ErrInvalidSpan) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	return err
}
