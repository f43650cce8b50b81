package tilestream

import (
	"log/slog"
)

const (
	defaultBudgetBytes  = 256 << 20
	defaultQueueSize    = 1024
	defaultFetchWorkers = 4
	defaultMaxFetches   = 8
)

type options struct {
	budgetBytes  int64
	queueSize    int
	fetchWorkers int
	maxFetches   int64
	logger       *Logger
	metrics      MetricsCollector
}

func defaultOptions() options {
	return options{
		budgetBytes:  defaultBudgetBytes,
		queueSize:    defaultQueueSize,
		fetchWorkers: defaultFetchWorkers,
		maxFetches:   defaultMaxFetches,
		logger:       NewLogger(nil),
		metrics:      NoopMetricsCollector{},
	}
}

// Option configures a Streamer.
type Option func(*options)

// WithBudgetBytes sets the resident-byte budget of the cache.
func WithBudgetBytes(n int64) Option {
	return func(o *options) {
		o.budgetBytes = n
	}
}

// WithQueueSize bounds the pending request queue. Submissions beyond it
// are rejected, not queued.
func WithQueueSize(n int) Option {
	return func(o *options) {
		o.queueSize = n
	}
}

// WithFetchWorkers sets the number of fetch worker goroutines.
func WithFetchWorkers(n int) Option {
	return func(o *options) {
		o.fetchWorkers = n
	}
}

// WithMaxConcurrentFetches caps fetches running at once, independent of
// the worker count.
func WithMaxConcurrentFetches(n int64) Option {
	return func(o *options) {
		o.maxFetches = n
	}
}

// WithLogger sets the logger. nil selects the default text logger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSlogHandler sets the logger from a bare slog handler.
func WithSlogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logger = NewLogger(h)
	}
}

// WithMetricsCollector sets the metrics sink. nil selects the no-op
// collector.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}
