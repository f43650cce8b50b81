package pipeline

import (
	"github.com/tilecraft/tilestream/cache"
	"github.com/tilecraft/tilestream/model"
)

// Pipeline couples the pending queue with the residency cache: submitting a
// key creates (or attaches to) its cache entry, and popping hands ordered
// work to the fetch layer.
//
// Deduplication: a key that is already pending, or already non-terminal in
// the cache, never gets a second in-flight request; the existing request id
// is returned so concurrent callers share one outcome.
type Pipeline struct {
	queue   *Queue
	cache   *cache.Cache
	pending map[model.ResourceKey]RequestID
	keys    map[RequestID]model.ResourceKey
	// inflight tracks keys popped from the queue whose workers have not yet
	// reported a terminal outcome.
	inflight map[model.ResourceKey]RequestID
}

// New creates a pipeline over the given cache with the given queue capacity.
func New(c *cache.Cache, maxPending int) *Pipeline {
	return &Pipeline{
		queue:    NewQueue(maxPending),
		cache:    c,
		pending:  make(map[model.ResourceKey]RequestID),
		keys:     make(map[RequestID]model.ResourceKey),
		inflight: make(map[model.ResourceKey]RequestID),
	}
}

// QueueLen returns the number of live pending requests.
func (p *Pipeline) QueueLen() int { return p.queue.Len() }

// InFlight returns the number of popped-but-unresolved requests.
func (p *Pipeline) InFlight() int { return len(p.inflight) }

// Submit requests that key become resident. If the key is already pending or
// in flight, the existing request id is returned with attached=true. A full
// queue surfaces ErrQueueFull.
func (p *Pipeline) Submit(key model.ResourceKey, priority int32, cost uint32) (id RequestID, attached bool, err error) {
	if id, ok := p.pending[key]; ok {
		return id, true, nil
	}
	if id, ok := p.inflight[key]; ok {
		return id, true, nil
	}
	if e, ok := p.cache.Peek(key); ok && !e.State.Terminal() && e.State != cache.StateRequested {
		// A worker already owns this key; nothing new to schedule.
		return 0, true, nil
	}

	id, err = p.queue.Submit(key, priority, cost)
	if err != nil {
		return 0, false, err
	}
	p.cache.Request(key)
	p.pending[key] = id
	p.keys[id] = key
	return id, false, nil
}

// Cancel removes a pending request in place and marks its cache entry
// Cancelled. Popped (in-flight) requests are cancelled cooperatively: the
// cache entry is flagged and the worker observes it at its next checkpoint.
func (p *Pipeline) Cancel(id RequestID) bool {
	key, ok := p.keys[id]
	if !ok {
		return false
	}
	if _, isPending := p.pending[key]; isPending {
		if !p.queue.Cancel(id) {
			return false
		}
		delete(p.pending, key)
		delete(p.keys, id)
		_ = p.cache.Cancel(key)
		return true
	}
	if _, isInflight := p.inflight[key]; isInflight {
		_ = p.cache.Cancel(key)
		return true
	}
	return false
}

// CancelKey cancels whatever request currently covers key.
func (p *Pipeline) CancelKey(key model.ResourceKey) bool {
	if id, ok := p.pending[key]; ok {
		return p.Cancel(id)
	}
	if id, ok := p.inflight[key]; ok {
		return p.Cancel(id)
	}
	return false
}

// PopBatch drains the next requests in total order within the budget and
// moves them to the in-flight set. Popped entries transition to Downloading.
func (p *Pipeline) PopBatch(budget *Budget) []Popped {
	batch := p.queue.PopBatch(budget)
	for _, popped := range batch {
		delete(p.pending, popped.Key)
		p.inflight[popped.Key] = popped.ID
		_ = p.cache.MarkState(popped.Key, cache.StateDownloading)
	}
	return batch
}

// Resolve removes a key from the in-flight set once its worker reported a
// terminal outcome (resident, failed, cancelled).
func (p *Pipeline) Resolve(key model.ResourceKey) {
	if id, ok := p.inflight[key]; ok {
		delete(p.inflight, key)
		delete(p.keys, id)
	}
}

// Key returns the resource key for a live request id.
func (p *Pipeline) Key(id RequestID) (model.ResourceKey, bool) {
	key, ok := p.keys[id]
	return key, ok
}
