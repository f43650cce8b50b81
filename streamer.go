package tilestream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tilecraft/tilestream/cache"
	"github.com/tilecraft/tilestream/model"
	"github.com/tilecraft/tilestream/pipeline"
	"github.com/tilecraft/tilestream/source"
	"github.com/tilecraft/tilestream/spatial"
	"github.com/tilecraft/tilestream/temporal"
)

// CompletionKind classifies a fetch worker's final report.
type CompletionKind uint8

const (
	// CompletionFetched carries a payload ready for admission.
	CompletionFetched CompletionKind = iota
	// CompletionNotFound means the resource is absent from the source.
	CompletionNotFound
	// CompletionFailed means the fetch failed after the worker layer's
	// retries.
	CompletionFailed
	// CompletionCancelled means the worker observed the cancellation flag
	// at a checkpoint.
	CompletionCancelled
)

// String returns the lowercase kind name.
func (k CompletionKind) String() string {
	switch k {
	case CompletionFetched:
		return "fetched"
	case CompletionNotFound:
		return "not_found"
	case CompletionFailed:
		return "failed"
	case CompletionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Completion is a fetch worker's report back to the core. Workers never
// mutate core state directly; the core applies completions under its own
// writer lock.
type Completion struct {
	Key     model.ResourceKey
	Kind    CompletionKind
	Payload []byte
	Err     error
}

// Streamer is the deterministic resource-delivery core: a budgeted
// residency cache, a prioritized request pipeline, spatial and temporal
// indexes, and a per-dataset version pin table behind a single-writer
// lock. Fetch I/O happens in worker goroutines outside the lock.
type Streamer struct {
	opts options
	src  source.TileSource

	mu     sync.Mutex
	cache  *cache.Cache
	pipe   *pipeline.Pipeline
	closed bool

	// Indexes are immutable once built; swapped atomically so queries
	// never take the writer lock.
	spatialIdx  atomic.Pointer[spatial.Index]
	temporalIdx atomic.Pointer[temporal.Index]

	work        chan pipeline.Popped
	completions chan Completion
	fetchSem    *semaphore.Weighted
	workers     *errgroup.Group
	// stepWG counts Step calls past the closed check, so Close can wait
	// for in-progress dispatches before draining the work channel.
	stepWG sync.WaitGroup
	runCtx context.Context
	cancel context.CancelFunc
}

// New creates a Streamer fetching from src.
func New(src source.TileSource, opts ...Option) (*Streamer, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrValidation)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := cache.New(cache.Config{BudgetBytes: o.budgetBytes})
	s := &Streamer{
		opts:        o,
		src:         src,
		cache:       c,
		pipe:        pipeline.New(c, o.queueSize),
		work:        make(chan pipeline.Popped, o.queueSize),
		completions: make(chan Completion, o.queueSize+o.fetchWorkers),
		fetchSem:    semaphore.NewWeighted(o.maxFetches),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.runCtx = ctx
	s.cancel = cancel
	s.workers = &errgroup.Group{}
	for i := 0; i < o.fetchWorkers; i++ {
		s.workers.Go(func() error {
			s.workerLoop(ctx)
			return nil
		})
	}
	return s, nil
}

// Close stops the fetch workers and applies any outstanding completions.
// The Streamer rejects all operations afterwards.
func (s *Streamer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	_ = s.workers.Wait()
	s.stepWG.Wait()

	// The work channel is never closed. With workers and in-progress Step
	// calls finished, drain both channels and settle what never reached a
	// worker.
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case popped := <-s.work:
			_ = s.cache.Cancel(popped.Key)
			s.pipe.Resolve(popped.Key)
		case c := <-s.completions:
			s.applyLocked(c)
		default:
			return nil
		}
	}
}

// BuildSpatialIndex (re)builds the spatial index over the given entities.
func (s *Streamer) BuildSpatialIndex(items []spatial.Item) error {
	idx, err := spatial.Build(items)
	if err != nil {
		return translateError("spatial build", err)
	}
	s.spatialIdx.Store(idx)
	return nil
}

// BuildTemporalIndex (re)builds the temporal index over the given
// entities.
func (s *Streamer) BuildTemporalIndex(items []temporal.Item) error {
	idx, err := temporal.Build(items)
	if err != nil {
		return translateError("temporal build", err)
	}
	s.temporalIdx.Store(idx)
	return nil
}

// QueryVisible intersects the spatial and temporal indexes: entities whose
// bounds intersect bounds and whose span overlaps window, in ascending id
// order. An index that was never built does not constrain the result.
func (s *Streamer) QueryVisible(bounds model.AABB, window model.TimeSpan) ([]model.EntityID, error) {
	if err := bounds.Validate(); err != nil {
		return nil, translateError("query", err)
	}
	if err := window.Validate(); err != nil {
		return nil, translateError("query", err)
	}

	sp := s.spatialIdx.Load()
	tm := s.temporalIdx.Load()
	switch {
	case sp == nil && tm == nil:
		return nil, nil
	case tm == nil:
		return sp.Query(bounds), nil
	case sp == nil:
		return tm.Query(window), nil
	}
	return intersectIDs(sp.Query(bounds), tm.Query(window)), nil
}

// intersectIDs returns the ascending intersection of two ascending id
// lists.
func intersectIDs(a, b []model.EntityID) []model.EntityID {
	ra := roaring.New()
	for _, id := range a {
		ra.Add(uint32(id))
	}
	rb := roaring.New()
	for _, id := range b {
		rb.Add(uint32(id))
	}
	ra.And(rb)

	out := make([]model.EntityID, 0, ra.GetCardinality())
	it := ra.Iterator()
	for it.HasNext() {
		out = append(out, model.EntityID(it.Next()))
	}
	return out
}

// EnsureResident asks that key become resident, submitting a fetch with
// the given priority and cost unless one is already pending or the entry
// is already live. attached reports that an existing request was joined.
func (s *Streamer) EnsureResident(key model.ResourceKey, priority int32, cost uint32) (id pipeline.RequestID, attached bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false, ErrClosed
	}

	id, attached, err = s.pipe.Submit(key, priority, cost)
	err = translateError("submit", err)
	s.opts.metrics.RecordSubmit(attached, err)
	s.opts.logger.LogSubmit(context.Background(), key, priority, err)
	return id, attached, err
}

// CancelRequest cancels a request by id. In-flight fetches are cancelled
// cooperatively: the worker observes the flag at its next checkpoint.
func (s *Streamer) CancelRequest(id pipeline.RequestID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.pipe.Cancel(id)
}

// CancelKey cancels whatever request currently covers key.
func (s *Streamer) CancelKey(key model.ResourceKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.pipe.CancelKey(key)
}

// PinVersion pins the dataset to version. Entries stamped with any other
// version are evicted in ascending key order; pinning the current version
// is a no-op. Returns the number of evicted entries.
func (s *Streamer) PinVersion(dataset model.DatasetID, version model.Version) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	evicted := s.cache.PinDatasetVersion(dataset, version)
	if len(evicted) > 0 {
		s.opts.metrics.RecordEviction(len(evicted))
	}
	s.opts.logger.LogPin(context.Background(), dataset, version, len(evicted))
	return len(evicted)
}

// PinnedVersion returns the dataset's currently pinned version.
func (s *Streamer) PinnedVersion(dataset model.DatasetID) model.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.PinnedVersion(dataset)
}

// Resident returns the payload for key if it is resident. The slice is
// owned by the cache and valid until the entry is evicted.
func (s *Streamer) Resident(key model.ResourceKey) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Get(key)
	hit := ok && e.State == cache.StateResident
	s.opts.metrics.RecordCacheAccess(hit)
	if !hit {
		return nil, false
	}
	s.opts.metrics.RecordDelivery(e.Size)
	return e.Payload(), true
}

// State returns the residency state of key's entry.
func (s *Streamer) State(key model.ResourceKey) (cache.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache.Peek(key)
	if !ok {
		return 0, false
	}
	return e.State, true
}

// UsedBytes returns the resident-byte total.
func (s *Streamer) UsedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.UsedBytes()
}

// PendingRequests returns the number of queued (not yet popped) requests.
func (s *Streamer) PendingRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipe.QueueLen()
}

// InFlight returns the number of requests handed to workers and not yet
// resolved.
func (s *Streamer) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipe.InFlight()
}

// Step advances the core one scheduling tick: it applies completions that
// workers have reported, then pops the next requests within the work-unit
// budget and hands them to the fetch workers. It returns the number of
// requests dispatched.
func (s *Streamer) Step(units uint32) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	s.stepWG.Add(1)
	defer s.stepWG.Done()

	s.drainCompletionsLocked()

	budget := pipeline.NewBudget(units)
	batch := s.pipe.PopBatch(budget)
	s.mu.Unlock()

	for i, popped := range batch {
		select {
		case s.work <- popped:
		case <-s.runCtx.Done():
			// Shutdown raced the dispatch. Settle the batch remainder so
			// no entry is stranded in a working state.
			s.mu.Lock()
			for _, rest := range batch[i:] {
				_ = s.cache.Cancel(rest.Key)
				s.pipe.Resolve(rest.Key)
			}
			s.mu.Unlock()
			return i, ErrClosed
		}
	}
	return len(batch), nil
}

// WaitIdle blocks until no requests are pending or in flight, applying
// completions as they arrive.
func (s *Streamer) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		s.drainCompletionsLocked()
		idle := s.pipe.QueueLen() == 0 && s.pipe.InFlight() == 0
		s.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case c := <-s.completions:
			s.mu.Lock()
			s.applyLocked(c)
			s.mu.Unlock()
		case <-s.runCtx.Done():
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Streamer) drainCompletionsLocked() {
	for {
		select {
		case c := <-s.completions:
			s.applyLocked(c)
		default:
			return
		}
	}
}

// applyLocked is the single place completions touch core state.
func (s *Streamer) applyLocked(c Completion) {
	s.opts.metrics.RecordCompletion(c.Kind, int64(len(c.Payload)))
	s.opts.logger.LogCompletion(context.Background(), c.Key, c.Kind, len(c.Payload), c.Err)

	switch c.Kind {
	case CompletionFetched:
		if err := s.cache.MarkResident(c.Key, c.Payload, int64(len(c.Payload))); err != nil {
			s.opts.logger.Warn("admission failed",
				"key", c.Key.String(),
				"error", translateError("admit", err),
			)
			_ = s.cache.Cancel(c.Key)
		}
	default:
		_ = s.cache.Cancel(c.Key)
	}
	s.pipe.Resolve(c.Key)
}

func (s *Streamer) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case popped := <-s.work:
			s.fetchOne(ctx, popped.Key)
		}
	}
}

// fetchOne is one worker-side fetch with cancellation checkpoints before
// and after the I/O.
func (s *Streamer) fetchOne(ctx context.Context, key model.ResourceKey) {
	if s.isCancelled(key) {
		s.report(ctx, Completion{Key: key, Kind: CompletionCancelled})
		return
	}

	coord, err := model.ParseTileCoord(key.Resource)
	if err != nil {
		s.report(ctx, Completion{Key: key, Kind: CompletionFailed, Err: fmt.Errorf("%w: %w", ErrValidation, err)})
		return
	}

	if err := s.fetchSem.Acquire(ctx, 1); err != nil {
		s.report(ctx, Completion{Key: key, Kind: CompletionCancelled, Err: err})
		return
	}
	data, err := s.src.GetTile(ctx, coord)
	s.fetchSem.Release(1)

	switch {
	case err == nil:
		if s.isCancelled(key) {
			s.report(ctx, Completion{Key: key, Kind: CompletionCancelled})
			return
		}
		s.report(ctx, Completion{Key: key, Kind: CompletionFetched, Payload: data})
	case errors.Is(err, source.ErrNotFound):
		s.report(ctx, Completion{Key: key, Kind: CompletionNotFound, Err: fmt.Errorf("%w: %s", ErrNotFound, key)})
	case ctx.Err() != nil:
		s.report(ctx, Completion{Key: key, Kind: CompletionCancelled, Err: ctx.Err()})
	default:
		s.report(ctx, Completion{Key: key, Kind: CompletionFailed, Err: fmt.Errorf("%w: %w", ErrTransientIO, err)})
	}
}

func (s *Streamer) isCancelled(key model.ResourceKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache.Peek(key)
	return ok && e.State == cache.StateCancelled
}

// report delivers a completion to the core. During shutdown the channel
// may never be drained, so the completion is applied directly instead;
// Close waits for workers before taking the lock, so this cannot deadlock.
func (s *Streamer) report(ctx context.Context, c Completion) {
	select {
	case s.completions <- c:
		return
	case <-ctx.Done():
	}
	s.mu.Lock()
	s.applyLocked(c)
	s.mu.Unlock()
}
