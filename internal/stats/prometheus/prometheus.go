// Package prometheus provides a Prometheus-based stats collector.
package prometheus

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/discochess/shelf/internal/stats"
)

// help describes the metrics the library emits. Unknown names fall back to
// the metric name itself.
var help = map[string]string{
	stats.MetricReads:            "Inventory reads served.",
	stats.MetricStaleServes:      "Reads served from a snapshot whose refresh failed.",
	stats.MetricLookupHits:       "Single-book lookups answered from the cache.",
	stats.MetricLookupMisses:     "Single-book lookups not in the cache.",
	stats.MetricRefreshes:        "Completed remote refreshes.",
	stats.MetricRefreshFailures:  "Remote refreshes that failed.",
	stats.MetricRefreshJoins:     "Callers that joined an in-flight refresh.",
	stats.MetricRefreshDuration:  "Duration of remote refreshes in seconds.",
	stats.MetricParseErrors:      "Remote records skipped because they could not be parsed.",
	stats.MetricResyncsScheduled: "Resynchronizations scheduled after a partial mutation failure.",
	stats.MetricCheckouts:        "Successful checkouts.",
	stats.MetricReturns:          "Successful returns.",
	stats.MetricConflicts:        "Mutations rejected because the count would leave its range.",
	stats.MetricRemoteErrors:     "Failed remote writes.",
	stats.MetricCacheSize:        "Books currently cached.",
	stats.MetricUsers:            "Borrowers currently cached.",
}

// Collector implements stats.Collector using Prometheus metrics.
type Collector struct {
	registry prometheus.Registerer

	mu         sync.RWMutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// New creates a new Prometheus collector.
// If registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	return &Collector{
		registry:   registry,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// IncCounter increments a counter metric.
func (c *Collector) IncCounter(name string, delta int64) {
	counter := getOrCreate(c, c.counters, name, func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: helpFor(name)})
	})
	counter.Add(float64(delta))
}

// SetGauge sets a gauge metric.
func (c *Collector) SetGauge(name string, value int64) {
	gauge := getOrCreate(c, c.gauges, name, func() prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: helpFor(name)})
	})
	gauge.Set(float64(value))
}

// ObserveHistogram records a value in a histogram.
func (c *Collector) ObserveHistogram(name string, value float64) {
	histogram := getOrCreate(c, c.histograms, name, func() prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    helpFor(name),
			Buckets: prometheus.DefBuckets,
		})
	})
	histogram.Observe(value)
}

func helpFor(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}

// getOrCreate returns the metric registered under name, creating and
// registering it on first use. A metric already registered elsewhere under
// the same name is reused.
func getOrCreate[M prometheus.Collector](c *Collector, metrics map[string]M, name string, create func() M) M {
	c.mu.RLock()
	m, ok := metrics[name]
	c.mu.RUnlock()
	if ok {
		return m
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if m, ok = metrics[name]; ok {
		return m
	}

	m = create()
	if err := c.registry.Register(m); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(M); ok {
				m = existing
			}
		}
		// Otherwise keep the unregistered metric; it still records values.
	}
	metrics[name] = m
	return m
}
