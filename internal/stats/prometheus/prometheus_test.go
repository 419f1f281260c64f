package prometheus

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/discochess/shelf/internal/stats"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestNew_DefaultRegistry(t *testing.T) {
	c := New(nil)
	if c.registry == nil {
		t.Error("registry should not be nil")
	}
}

func TestCollector_IncCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.IncCounter(stats.MetricCheckouts, 5)
	c.IncCounter(stats.MetricCheckouts, 3)

	f := gather(t, reg, stats.MetricCheckouts)
	if f == nil {
		t.Fatalf("%s not registered", stats.MetricCheckouts)
	}
	if got := f.GetMetric()[0].GetCounter().GetValue(); got != 8 {
		t.Errorf("counter value = %v, want 8", got)
	}
	if got := f.GetHelp(); got != help[stats.MetricCheckouts] {
		t.Errorf("help = %q, want %q", got, help[stats.MetricCheckouts])
	}
}

func TestCollector_SetGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.SetGauge(stats.MetricCacheSize, 42)
	c.SetGauge(stats.MetricCacheSize, 40)

	f := gather(t, reg, stats.MetricCacheSize)
	if f == nil {
		t.Fatalf("%s not registered", stats.MetricCacheSize)
	}
	if got := f.GetMetric()[0].GetGauge().GetValue(); got != 40 {
		t.Errorf("gauge value = %v, want 40", got)
	}
}

func TestCollector_ObserveHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	for _, v := range []float64{0.5, 1.5, 2.5} {
		c.ObserveHistogram(stats.MetricRefreshDuration, v)
	}

	f := gather(t, reg, stats.MetricRefreshDuration)
	if f == nil {
		t.Fatalf("%s not registered", stats.MetricRefreshDuration)
	}
	if got := f.GetMetric()[0].GetHistogram().GetSampleCount(); got != 3 {
		t.Errorf("histogram count = %v, want 3", got)
	}
}

func TestCollector_UnknownNameUsesNameAsHelp(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.IncCounter("custom_total", 1)

	f := gather(t, reg, "custom_total")
	if f == nil {
		t.Fatal("custom_total not registered")
	}
	if f.GetHelp() != "custom_total" {
		t.Errorf("help = %q, want custom_total", f.GetHelp())
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.IncCounter(stats.MetricReads, 1)
				c.SetGauge(stats.MetricUsers, int64(j))
				c.ObserveHistogram(stats.MetricRefreshDuration, float64(j))
			}
		}()
	}
	wg.Wait()

	reads := gather(t, reg, stats.MetricReads)
	if reads == nil {
		t.Fatal("reads counter not registered")
	}
	if got := reads.GetMetric()[0].GetCounter().GetValue(); got != 1000 {
		t.Errorf("counter value = %v, want 1000", got)
	}
	if gather(t, reg, stats.MetricUsers) == nil {
		t.Error("users gauge not registered")
	}
}

func TestCollector_AlreadyRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()

	existing := prometheus.NewCounter(prometheus.CounterOpts{
		Name: stats.MetricConflicts,
		Help: help[stats.MetricConflicts],
	})
	reg.MustRegister(existing)
	existing.Add(100)

	c := New(reg)
	c.IncCounter(stats.MetricConflicts, 5)

	f := gather(t, reg, stats.MetricConflicts)
	if f == nil {
		t.Fatal("conflicts counter missing")
	}
	if got := f.GetMetric()[0].GetCounter().GetValue(); got != 105 {
		t.Errorf("counter value = %v, want 105", got)
	}
}
