// Package logger provides a stats collector that reports metrics through zap,
// for deployments without a Prometheus scrape.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/discochess/shelf/internal/stats"
)

// failures are counters whose increments mean the cache fell behind the
// remote store or failed to reach it. They are logged at warn level.
var failures = map[string]bool{
	stats.MetricRefreshFailures:  true,
	stats.MetricRemoteErrors:     true,
	stats.MetricResyncsScheduled: true,
	stats.MetricStaleServes:      true,
	stats.MetricParseErrors:      true,
}

// Collector implements stats.Collector by logging every update together with
// the running counter total. Routine updates are logged at debug level.
type Collector struct {
	logger *zap.Logger

	mu     sync.Mutex
	totals map[string]int64
}

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// New creates a collector logging under the "stats" name.
// If logger is nil, a no-op logger is used.
func New(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		logger: logger.Named("stats"),
		totals: make(map[string]int64),
	}
}

// IncCounter logs a counter increment and its new total.
func (c *Collector) IncCounter(name string, delta int64) {
	c.mu.Lock()
	c.totals[name] += delta
	total := c.totals[name]
	c.mu.Unlock()

	level := zapcore.DebugLevel
	if failures[name] {
		level = zapcore.WarnLevel
	}
	c.logger.Log(level, "counter",
		zap.String("metric", name),
		zap.Int64("delta", delta),
		zap.Int64("total", total),
	)
}

// SetGauge logs a gauge value.
func (c *Collector) SetGauge(name string, value int64) {
	c.logger.Debug("gauge",
		zap.String("metric", name),
		zap.Int64("value", value),
	)
}

// ObserveHistogram logs a histogram observation. Refresh durations are
// reported in seconds.
func (c *Collector) ObserveHistogram(name string, value float64) {
	c.logger.Debug("histogram",
		zap.String("metric", name),
		zap.Float64("value", value),
	)
}
