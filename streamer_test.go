package tilestream

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilecraft/tilestream/cache"
	"github.com/tilecraft/tilestream/model"
	"github.com/tilecraft/tilestream/source"
	"github.com/tilecraft/tilestream/spatial"
	"github.com/tilecraft/tilestream/temporal"
)

func newTestSource(t *testing.T) *source.MemorySource {
	t.Helper()
	src := source.NewMemorySource("test", model.FormatPNG)
	src.SetTile(model.TileCoord{Z: 0, X: 0, Y: 0}, []byte("root tile"))
	src.SetTile(model.TileCoord{Z: 1, X: 0, Y: 0}, []byte("child a"))
	src.SetTile(model.TileCoord{Z: 1, X: 1, Y: 0}, []byte("child b"))
	return src
}

func key(resource string) model.ResourceKey {
	return model.ResourceKey{Dataset: "world", Resource: resource}
}

func pump(t *testing.T, s *Streamer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		n, err := s.Step(64)
		require.NoError(t, err)
		if n == 0 && s.PendingRequests() == 0 {
			break
		}
		require.NoError(t, s.WaitIdle(ctx))
	}
	require.NoError(t, s.WaitIdle(ctx))
}

func TestStreamerFetchToResident(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	s, err := New(newTestSource(t),
		WithLogger(NoopLogger()),
		WithMetricsCollector(metrics),
	)
	require.NoError(t, err)
	defer s.Close()

	_, attached, err := s.EnsureResident(key("0/0/0"), 0, 1)
	require.NoError(t, err)
	assert.False(t, attached)

	pump(t, s)

	data, ok := s.Resident(key("0/0/0"))
	require.True(t, ok)
	assert.Equal(t, []byte("root tile"), data)
	assert.Equal(t, int64(len("root tile")), s.UsedBytes())

	state, ok := s.State(key("0/0/0"))
	require.True(t, ok)
	assert.Equal(t, cache.StateResident, state)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.FetchedCount)
	assert.Equal(t, int64(1), stats.CacheHits)
}

func TestStreamerAttachesDuplicateRequests(t *testing.T) {
	s, err := New(newTestSource(t), WithLogger(NoopLogger()))
	require.NoError(t, err)
	defer s.Close()

	id1, attached, err := s.EnsureResident(key("0/0/0"), 0, 1)
	require.NoError(t, err)
	require.False(t, attached)

	id2, attached, err := s.EnsureResident(key("0/0/0"), 5, 1)
	require.NoError(t, err)
	assert.True(t, attached)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, s.PendingRequests())
}

func TestStreamerNotFound(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	s, err := New(newTestSource(t),
		WithLogger(NoopLogger()),
		WithMetricsCollector(metrics),
	)
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.EnsureResident(key("9/0/0"), 0, 1)
	require.NoError(t, err)
	pump(t, s)

	_, ok := s.Resident(key("9/0/0"))
	assert.False(t, ok)

	state, ok := s.State(key("9/0/0"))
	require.True(t, ok)
	assert.Equal(t, cache.StateCancelled, state)
	assert.Equal(t, int64(1), metrics.GetStats().NotFoundCount)
}

func TestStreamerRejectsWhenQueueFull(t *testing.T) {
	s, err := New(newTestSource(t),
		WithLogger(NoopLogger()),
		WithQueueSize(1),
	)
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.EnsureResident(key("0/0/0"), 0, 1)
	require.NoError(t, err)

	_, _, err = s.EnsureResident(key("1/0/0"), 0, 1)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestStreamerCancelPendingRequest(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	s, err := New(newTestSource(t),
		WithLogger(NoopLogger()),
		WithMetricsCollector(metrics),
	)
	require.NoError(t, err)
	defer s.Close()

	id, _, err := s.EnsureResident(key("0/0/0"), 0, 1)
	require.NoError(t, err)

	assert.True(t, s.CancelRequest(id))
	assert.Equal(t, 0, s.PendingRequests())

	state, ok := s.State(key("0/0/0"))
	require.True(t, ok)
	assert.Equal(t, cache.StateCancelled, state)
}

func TestStreamerEntryTooLargeIsDropped(t *testing.T) {
	s, err := New(newTestSource(t),
		WithLogger(NoopLogger()),
		WithBudgetBytes(4),
	)
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.EnsureResident(key("0/0/0"), 0, 1)
	require.NoError(t, err)
	pump(t, s)

	_, ok := s.Resident(key("0/0/0"))
	assert.False(t, ok)
	assert.Equal(t, int64(0), s.UsedBytes())
}

func TestStreamerDispatchOrderFollowsPriority(t *testing.T) {
	rec := &recordingSource{inner: newTestSource(t)}
	s, err := New(rec,
		WithLogger(NoopLogger()),
		WithFetchWorkers(1),
	)
	require.NoError(t, err)
	defer s.Close()

	// Submission order deliberately disagrees with priority order.
	_, _, err = s.EnsureResident(key("1/1/0"), 20, 1)
	require.NoError(t, err)
	_, _, err = s.EnsureResident(key("0/0/0"), 10, 1)
	require.NoError(t, err)
	_, _, err = s.EnsureResident(key("1/0/0"), 10, 1)
	require.NoError(t, err)

	pump(t, s)

	assert.Equal(t, []string{"0/0/0", "1/0/0", "1/1/0"}, rec.coords())
}

func TestStreamerPinVersionEvictsStale(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	s, err := New(newTestSource(t),
		WithLogger(NoopLogger()),
		WithMetricsCollector(metrics),
	)
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.EnsureResident(key("0/0/0"), 0, 1)
	require.NoError(t, err)
	pump(t, s)

	_, ok := s.Resident(key("0/0/0"))
	require.True(t, ok)

	evicted := s.PinVersion("world", "v2")
	assert.Equal(t, 1, evicted)
	assert.Equal(t, model.Version("v2"), s.PinnedVersion("world"))

	_, ok = s.Resident(key("0/0/0"))
	assert.False(t, ok)
	assert.Equal(t, int64(0), s.UsedBytes())
	assert.Equal(t, int64(1), metrics.GetStats().EvictionCount)

	// Pinning the current version again is a no-op.
	assert.Equal(t, 0, s.PinVersion("world", "v2"))
}

func TestStreamerQueryVisibleIntersectsIndexes(t *testing.T) {
	s, err := New(newTestSource(t), WithLogger(NoopLogger()))
	require.NoError(t, err)
	defer s.Close()

	unit := func(x float64) model.AABB {
		return model.NewAABB([3]float64{x, 0, 0}, [3]float64{x + 1, 1, 1})
	}
	require.NoError(t, s.BuildSpatialIndex([]spatial.Item{
		{ID: 1, Bounds: unit(0)},
		{ID: 2, Bounds: unit(10)},
		{ID: 3, Bounds: unit(0.5)},
	}))
	require.NoError(t, s.BuildTemporalIndex([]temporal.Item{
		{ID: 1, Span: model.Span(0, 10)},
		{ID: 2, Span: model.Span(0, 10)},
		{ID: 3, Span: model.Span(100, 200)},
	}))

	// Entity 1 matches both, 2 fails spatially, 3 fails temporally.
	ids, err := s.QueryVisible(
		model.NewAABB([3]float64{0, 0, 0}, [3]float64{2, 2, 2}),
		model.Span(5, 6),
	)
	require.NoError(t, err)
	assert.Equal(t, []model.EntityID{1}, ids)
}

func TestStreamerQueryVisibleWithoutTemporalIndex(t *testing.T) {
	s, err := New(newTestSource(t), WithLogger(NoopLogger()))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.BuildSpatialIndex([]spatial.Item{
		{ID: 7, Bounds: model.NewAABB([3]float64{0, 0, 0}, [3]float64{1, 1, 1})},
	}))

	ids, err := s.QueryVisible(
		model.NewAABB([3]float64{0, 0, 0}, [3]float64{2, 2, 2}),
		model.Forever(),
	)
	require.NoError(t, err)
	assert.Equal(t, []model.EntityID{7}, ids)
}

func TestStreamerRejectsInvalidBounds(t *testing.T) {
	s, err := New(newTestSource(t), WithLogger(NoopLogger()))
	require.NoError(t, err)
	defer s.Close()

	err = s.BuildSpatialIndex([]spatial.Item{
		{ID: 1, Bounds: model.NewAABB([3]float64{1, 0, 0}, [3]float64{0, 1, 1})},
	})
	assert.ErrorIs(t, err, ErrValidation)

	err = s.BuildTemporalIndex([]temporal.Item{
		{ID: 1, Span: model.Span(10, 0)},
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.QueryVisible(
		model.NewAABB([3]float64{1, 0, 0}, [3]float64{0, 1, 1}),
		model.Forever(),
	)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStreamerCloseDuringDispatch(t *testing.T) {
	src := newTestSource(t)
	s, err := New(src,
		WithLogger(NoopLogger()),
		WithQueueSize(256),
		WithFetchWorkers(2),
	)
	require.NoError(t, err)

	for i := 0; i < 128; i++ {
		_, _, err := s.EnsureResident(key(fmt.Sprintf("7/%d/0", i)), int32(i), 1)
		require.NoError(t, err)
	}

	// Hammer Step while Close runs. Dispatch must never hit a closed
	// channel; once Close lands, Step reports ErrClosed and stops.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := s.Step(4); err != nil {
				assert.ErrorIs(t, err, ErrClosed)
				return
			}
			runtime.Gosched()
		}
	}()

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Close())
	<-done

	// Dispatched-but-undelivered entries were settled, not stranded in a
	// working state.
	for i := 0; i < 128; i++ {
		state, ok := s.State(key(fmt.Sprintf("7/%d/0", i)))
		if !ok {
			continue
		}
		if state != cache.StateRequested {
			assert.True(t, state.Terminal(), "key 7/%d/0 left in state %s", i, state)
		}
	}
}

func TestStreamerClosedRejectsOperations(t *testing.T) {
	s, err := New(newTestSource(t), WithLogger(NoopLogger()))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err = s.EnsureResident(key("0/0/0"), 0, 1)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = s.Step(1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.WaitIdle(context.Background()), ErrClosed)
}

func TestStreamerRejectsNilSource(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrValidation)
}

// recordingSource wraps a source and records fetch order.
type recordingSource struct {
	inner source.TileSource
	mu    sync.Mutex
	order []string
}

func (r *recordingSource) Metadata() source.Metadata { return r.inner.Metadata() }

func (r *recordingSource) GetTile(ctx context.Context, coord model.TileCoord) ([]byte, error) {
	r.mu.Lock()
	r.order = append(r.order, coord.String())
	r.mu.Unlock()
	return r.inner.GetTile(ctx, coord)
}

func (r *recordingSource) HasTile(ctx context.Context, coord model.TileCoord) (bool, error) {
	return r.inner.HasTile(ctx, coord)
}

func (r *recordingSource) GetTiles(ctx context.Context, coords []model.TileCoord) (map[model.TileCoord][]byte, error) {
	return r.inner.GetTiles(ctx, coords)
}

func (r *recordingSource) coords() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}
