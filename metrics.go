package tilestream

import (
	"sync/atomic"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordSubmit is called after each pipeline submission. attached is
	// true when the key was already in flight; err is nil on success.
	RecordSubmit(attached bool, err error)

	// RecordCompletion is called when a fetch worker's report is applied.
	// bytes is the payload size for fetched completions, 0 otherwise.
	RecordCompletion(kind CompletionKind, bytes int64)

	// RecordEviction is called with the number of entries evicted, both
	// for budget evictions and version-pin cascades.
	RecordEviction(count int)

	// RecordCacheAccess is called on every resident-payload lookup.
	RecordCacheAccess(hit bool)

	// RecordDelivery is called when a payload is handed to a consumer.
	RecordDelivery(bytes int64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSubmit(bool, error)               {}
func (NoopMetricsCollector) RecordCompletion(CompletionKind, int64) {}
func (NoopMetricsCollector) RecordEviction(int)                     {}
func (NoopMetricsCollector) RecordCacheAccess(bool)                 {}
func (NoopMetricsCollector) RecordDelivery(int64)                   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	SubmitCount    atomic.Int64
	SubmitAttached atomic.Int64
	SubmitRejected atomic.Int64
	FetchedCount   atomic.Int64
	FetchedBytes   atomic.Int64
	NotFoundCount  atomic.Int64
	FailedCount    atomic.Int64
	CancelledCount atomic.Int64
	EvictionCount  atomic.Int64
	CacheHits      atomic.Int64
	CacheMisses    atomic.Int64
	Deliveries     atomic.Int64
	DeliveredBytes atomic.Int64
}

// RecordSubmit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSubmit(attached bool, err error) {
	b.SubmitCount.Add(1)
	if attached {
		b.SubmitAttached.Add(1)
	}
	if err != nil {
		b.SubmitRejected.Add(1)
	}
}

// RecordCompletion implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompletion(kind CompletionKind, bytes int64) {
	switch kind {
	case CompletionFetched:
		b.FetchedCount.Add(1)
		b.FetchedBytes.Add(bytes)
	case CompletionNotFound:
		b.NotFoundCount.Add(1)
	case CompletionFailed:
		b.FailedCount.Add(1)
	case CompletionCancelled:
		b.CancelledCount.Add(1)
	}
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(count int) {
	b.EvictionCount.Add(int64(count))
}

// RecordCacheAccess implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheAccess(hit bool) {
	if hit {
		b.CacheHits.Add(1)
	} else {
		b.CacheMisses.Add(1)
	}
}

// RecordDelivery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelivery(bytes int64) {
	b.Deliveries.Add(1)
	b.DeliveredBytes.Add(bytes)
}

// Stats is a snapshot of BasicMetricsCollector state.
type Stats struct {
	SubmitCount    int64
	SubmitAttached int64
	SubmitRejected int64
	FetchedCount   int64
	FetchedBytes   int64
	NotFoundCount  int64
	FailedCount    int64
	CancelledCount int64
	EvictionCount  int64
	CacheHits      int64
	CacheMisses    int64
	Deliveries     int64
	DeliveredBytes int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() Stats {
	return Stats{
		SubmitCount:    b.SubmitCount.Load(),
		SubmitAttached: b.SubmitAttached.Load(),
		SubmitRejected: b.SubmitRejected.Load(),
		FetchedCount:   b.FetchedCount.Load(),
		FetchedBytes:   b.FetchedBytes.Load(),
		NotFoundCount:  b.NotFoundCount.Load(),
		FailedCount:    b.FailedCount.Load(),
		CancelledCount: b.CancelledCount.Load(),
		EvictionCount:  b.EvictionCount.Load(),
		CacheHits:      b.CacheHits.Load(),
		CacheMisses:    b.CacheMisses.Load(),
		Deliveries:     b.Deliveries.Load(),
		DeliveredBytes: b.DeliveredBytes.Load(),
	}
}
