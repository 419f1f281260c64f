// Package stats provides a unified interface for collecting metrics.
package stats

// Metric names used throughout the library.
const (
	// Read path.
	MetricReads        = "shelf_reads_total"
	MetricStaleServes  = "shelf_stale_serves_total"
	MetricLookupHits   = "shelf_lookup_hits_total"
	MetricLookupMisses = "shelf_lookup_misses_total"

	// Refresh.
	MetricRefreshes        = "shelf_refreshes_total"
	MetricRefreshFailures  = "shelf_refresh_failures_total"
	MetricRefreshJoins     = "shelf_refresh_joins_total"
	MetricRefreshDuration  = "shelf_refresh_duration_seconds"
	MetricParseErrors      = "shelf_parse_errors_total"
	MetricResyncsScheduled = "shelf_resyncs_scheduled_total"

	// Mutations.
	MetricCheckouts    = "shelf_checkouts_total"
	MetricReturns      = "shelf_returns_total"
	MetricConflicts    = "shelf_conflicts_total"
	MetricRemoteErrors = "shelf_remote_errors_total"

	// Cache.
	MetricCacheSize = "shelf_cache_books"
	MetricUsers     = "shelf_cache_users"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
