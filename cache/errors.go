package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownKey is returned when an operation references a key with no entry.
	ErrUnknownKey = errors.New("unknown cache key")
)

// ErrCapacity indicates that the byte budget cannot admit a resident entry,
// either because the payload alone exceeds the budget or because not enough
// evictable bytes could be freed.
type ErrCapacity struct {
	Requested int64
	Budget    int64
	Freeable  int64
}

func (e *ErrCapacity) Error() string {
	return fmt.Sprintf("cannot admit %d bytes within budget %d (freeable %d)", e.Requested, e.Budget, e.Freeable)
}

// ErrInvalidTransition indicates a residency transition the lifecycle does
// not permit.
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid residency transition %s -> %s", e.From, e.To)
}

// ErrInvariant reports internal state corruption (duplicate admission, budget
// accounting gone negative). It is a programming error: callers should treat
// it as fatal rather than retry.
type ErrInvariant struct {
	Detail string
}

func (e *ErrInvariant) Error() string {
	return "cache invariant violated: " + e.Detail
}
