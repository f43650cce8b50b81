// Package pipeline implements the deterministic request scheduler: a
// priority-ordered, cancellable, backpressure-aware queue plus budgeted
// stepping that turns desired-resource sets into cache state transitions.
//
// The pending set has a total order on (priority, key, insertion order);
// lower priority values are served first. Cancellation marks items in place
// so the relative order of the remainder never changes.
//
// Like the cache, the queue is not internally synchronized: the single-writer
// core serializes all mutation.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/tilecraft/tilestream/model"
)

// RequestID identifies a submitted request. IDs are assigned from a
// monotonically increasing counter and never reused.
type RequestID uint64

// ErrQueueFull is returned by Submit when the queue is at capacity. Callers
// retry later; the condition is not fatal.
var ErrQueueFull = errors.New("request queue at capacity")

// ErrInvariant reports an ordering-contract violation inside the queue.
type ErrInvariant struct {
	Detail string
}

func (e *ErrInvariant) Error() string {
	return "pipeline invariant violated: " + e.Detail
}

type item struct {
	id        RequestID
	key       model.ResourceKey
	priority  int32
	cost      uint32
	cancelled bool
}

// less orders items by (priority, key, insertion order). Insertion order is
// the request id, which is assigned monotonically.
func (it *item) less(o *item) bool {
	if it.priority != o.priority {
		return it.priority < o.priority
	}
	if c := it.key.Compare(o.key); c != 0 {
		return c < 0
	}
	return it.id < o.id
}

// Queue is the deterministic pending-request set.
type Queue struct {
	nextID     RequestID
	items      []item
	maxPending int
}

// NewQueue returns a queue holding at most maxPending live requests.
// maxPending <= 0 means unbounded.
func NewQueue(maxPending int) *Queue {
	return &Queue{nextID: 1, maxPending: maxPending}
}

// Len returns the number of live (non-cancelled) pending requests.
func (q *Queue) Len() int {
	n := 0
	for i := range q.items {
		if !q.items[i].cancelled {
			n++
		}
	}
	return n
}

// Submit appends a request. Returns ErrQueueFull when the queue is at
// capacity rather than blocking.
func (q *Queue) Submit(key model.ResourceKey, priority int32, cost uint32) (RequestID, error) {
	if q.maxPending > 0 && q.Len() >= q.maxPending {
		return 0, ErrQueueFull
	}
	if cost == 0 {
		cost = 1
	}
	id := q.nextID
	q.nextID++
	q.items = append(q.items, item{id: id, key: key, priority: priority, cost: cost})
	return id, nil
}

// Cancel marks the request cancelled in place without perturbing the order
// of the remaining queue. Returns false if the id is not pending.
func (q *Queue) Cancel(id RequestID) bool {
	for i := range q.items {
		if q.items[i].id == id && !q.items[i].cancelled {
			q.items[i].cancelled = true
			return true
		}
	}
	return false
}

// Popped is one drained request.
type Popped struct {
	ID       RequestID
	Key      model.ResourceKey
	Priority int32
	Cost     uint32
}

// PopNext removes and returns the smallest live item under the total order,
// but only if the budget covers its cost. If the next item is too expensive
// the queue returns nothing rather than searching for cheaper items, keeping
// drain order aligned with priority order.
func (q *Queue) PopNext(budget *Budget) (Popped, bool) {
	best := -1
	for i := range q.items {
		if q.items[i].cancelled {
			continue
		}
		if best < 0 || q.items[i].less(&q.items[best]) {
			best = i
		}
	}
	if best < 0 {
		return Popped{}, false
	}
	it := q.items[best]
	if !budget.TryConsume(it.cost) {
		return Popped{}, false
	}
	q.items = append(q.items[:best], q.items[best+1:]...)
	q.compact()
	return Popped{ID: it.id, Key: it.key, Priority: it.priority, Cost: it.cost}, true
}

// PopBatch drains items in total order until the budget is exhausted,
// returning them in drain order. The remainder keeps its relative order.
func (q *Queue) PopBatch(budget *Budget) []Popped {
	var batch []Popped
	for {
		p, ok := q.PopNext(budget)
		if !ok {
			return batch
		}
		batch = append(batch, p)
	}
}

// compact drops cancelled prefix garbage once it dominates the slice. The
// scan preserves relative order of live items.
func (q *Queue) compact() {
	cancelled := 0
	for i := range q.items {
		if q.items[i].cancelled {
			cancelled++
		}
	}
	if cancelled*2 < len(q.items) {
		return
	}
	live := q.items[:0]
	for i := range q.items {
		if !q.items[i].cancelled {
			live = append(live, q.items[i])
		}
	}
	q.items = live
}

// verifyTotalOrder returns an invariant error if two live items compare
// equal, which the (priority, key, insertion order) contract forbids.
func (q *Queue) verifyTotalOrder() error {
	for i := range q.items {
		for j := i + 1; j < len(q.items); j++ {
			a, b := &q.items[i], &q.items[j]
			if a.cancelled || b.cancelled {
				continue
			}
			if !a.less(b) && !b.less(a) {
				return &ErrInvariant{Detail: fmt.Sprintf("requests %d and %d compare equal", a.id, b.id)}
			}
		}
	}
	return nil
}
