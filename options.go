package shelf

import (
	"time"

	"go.uber.org/zap"

	"github.com/discochess/shelf/internal/cache/misscache"
	"github.com/discochess/shelf/internal/freshness"
	"github.com/discochess/shelf/internal/remote"
	"github.com/discochess/shelf/internal/stats"
)

// Default timeouts.
const (
	// DefaultTimeout bounds each individual remote call.
	DefaultTimeout = 10 * time.Second

	// DefaultRefreshTimeout bounds a whole paginated refresh.
	DefaultRefreshTimeout = 2 * time.Minute
)

// Option configures a Client.
type Option interface {
	apply(*options)
}

// options holds the client configuration.
type options struct {
	source         remote.Source
	writer         remote.Writer
	ttl            time.Duration
	timeout        time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	missSize       int
	missTTL        time.Duration
	stats          stats.Collector
	logger         *zap.Logger
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		ttl:            freshness.DefaultTTL,
		timeout:        DefaultTimeout,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
		missSize:       misscache.DefaultSize,
		missTTL:        misscache.DefaultTTL,
		stats:          stats.NewNoop(),
		logger:         zap.NewNop(),
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithSource sets where inventory and borrowers are read from.
func WithSource(s remote.Source) Option {
	return optionFunc(func(o *options) {
		o.source = s
	})
}

// WithWriter sets where checkouts and returns are recorded.
// A client without a writer is read-only.
func WithWriter(w remote.Writer) Option {
	return optionFunc(func(o *options) {
		o.writer = w
	})
}

// WithBackend sets both source and writer.
func WithBackend(b remote.Backend) Option {
	return optionFunc(func(o *options) {
		o.source = b
		o.writer = b
	})
}

// WithTTL sets how long a refresh is trusted. Default is 24 hours.
// Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return optionFunc(func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	})
}

// WithTimeout bounds each remote call. Default is 10 seconds.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	})
}

// WithRefreshTimeout bounds a whole refresh. Default is 2 minutes.
func WithRefreshTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		if d > 0 {
			o.refreshTimeout = d
		}
	})
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *options) {
		if now != nil {
			o.now = now
		}
	})
}

// WithMissCache sizes the memory of book ids the remote confirmed absent.
func WithMissCache(size int, ttl time.Duration) Option {
	return optionFunc(func(o *options) {
		o.missSize = size
		o.missTTL = ttl
	})
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}
