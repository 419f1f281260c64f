// Package shelf keeps a lending library's inventory in memory in front of a
// slow, rate-limited remote table store.
//
// Reads are served from the cache and refresh it transparently once it is
// older than the TTL; concurrent refreshes are coalesced into one remote
// fetch. Checkouts and returns are written to the remote store first and
// then applied to the cache in place.
//
// Example usage:
//
//	backend, err := airtable.New(airtable.Config{...})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := shelf.New(shelf.WithBackend(backend))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	snap, err := client.GetAvailableBooks(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, b := range snap.Books {
//	    fmt.Printf("%s (%d/%d)\n", b.Title, b.Available, b.InStock)
//	}
package shelf

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/discochess/shelf/internal/cache"
	"github.com/discochess/shelf/internal/cache/misscache"
	"github.com/discochess/shelf/internal/freshness"
	"github.com/discochess/shelf/internal/inventory"
	"github.com/discochess/shelf/internal/keylock"
	"github.com/discochess/shelf/internal/remote"
	"github.com/discochess/shelf/internal/stats"
)

// Client serves the library inventory from memory.
// A Client is safe for concurrent use by multiple goroutines.
type Client struct {
	source remote.Source
	writer remote.Writer

	store  *cache.Store
	misses *misscache.Cache
	locks  *keylock.Locker
	group  singleflight.Group

	ttl            time.Duration
	timeout        time.Duration
	refreshTimeout time.Duration
	now            func() time.Time

	stats  stats.Collector
	logger *zap.Logger

	// resync forces the next read to refresh regardless of the TTL.
	resync atomic.Bool
	closed atomic.Bool
}

// New creates a Client with the given options. The cache starts empty and is
// filled by the first read.
func New(opts ...Option) (*Client, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if cfg.source == nil {
		return nil, ErrNoSource
	}

	misses, err := misscache.New(cfg.missSize, cfg.missTTL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		source:         cfg.source,
		writer:         cfg.writer,
		store:          cache.New(cfg.stats),
		misses:         misses,
		locks:          keylock.New(),
		ttl:            cfg.ttl,
		timeout:        cfg.timeout,
		refreshTimeout: cfg.refreshTimeout,
		now:            cfg.now,
		stats:          cfg.stats,
		logger:         cfg.logger,
	}

	c.logger.Debug("client initialized",
		zap.Duration("ttl", c.ttl),
		zap.Duration("timeout", c.timeout),
		zap.Bool("readOnly", c.writer == nil),
	)

	return c, nil
}

// GetAllBooks returns every cached book.
func (c *Client) GetAllBooks(ctx context.Context) (Snapshot, error) {
	return c.books(ctx, nil)
}

// GetAvailableBooks returns the books with at least one copy on the shelf.
func (c *Client) GetAvailableBooks(ctx context.Context) (Snapshot, error) {
	return c.books(ctx, func(b Book) bool { return b.Available > 0 })
}

// GetCheckedOutBooks returns the books with at least one copy lent out.
func (c *Client) GetCheckedOutBooks(ctx context.Context) (Snapshot, error) {
	return c.books(ctx, func(b Book) bool { return b.Available < b.InStock })
}

// GetBook returns one book. Returns ErrNotFound if the id is unknown.
//
// Ids missing from a fresh cache are looked up remotely once, since books
// may have been added after the last refresh; ids the remote confirms absent
// are remembered for a while.
func (c *Client) GetBook(ctx context.Context, id string) (Book, error) {
	if id == "" {
		return Book{}, ErrInvalidID
	}
	status, err := c.ensureFresh(ctx)
	if err != nil {
		return Book{}, err
	}
	if b, ok := c.store.Get(id); ok {
		return b, nil
	}
	if status.Stale || c.misses.Contains(id) {
		return Book{}, bookNotFound(id)
	}
	return c.lookupRemote(ctx, id)
}

// GetUsers returns every cached borrower.
func (c *Client) GetUsers(ctx context.Context) (Roster, error) {
	status, err := c.ensureFresh(ctx)
	if err != nil {
		return Roster{}, err
	}
	return Roster{Users: c.store.Users(), Status: status}, nil
}

// Stats returns a summary of the cache state.
func (c *Client) Stats() Stats {
	st := c.store.Stats()
	return Stats{
		Books:         st.Books,
		Users:         st.Users,
		RefreshedAt:   st.RefreshedAt,
		Stale:         freshness.IsStale(st.RefreshedAt, c.now(), c.ttl),
		ResyncPending: c.resync.Load(),
		LookupHits:    st.Hits,
		LookupMisses:  st.Misses,
		LookupHitRate: st.HitRate(),
		KnownMissing:  c.misses.Len(),
	}
}

// Close marks the client closed. Calls made after Close return ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return nil
}

func (c *Client) books(ctx context.Context, keep func(Book) bool) (Snapshot, error) {
	status, err := c.ensureFresh(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	books := c.store.ReadSnapshot()
	if keep != nil {
		filtered := books[:0]
		for _, b := range books {
			if keep(b) {
				filtered = append(filtered, b)
			}
		}
		books = filtered
	}
	return Snapshot{Books: books, Status: status}, nil
}

// ensureFresh refreshes the cache first if it is stale or a resync is
// pending. A failed refresh degrades to serving the previous snapshot,
// unless there is none.
func (c *Client) ensureFresh(ctx context.Context) (Status, error) {
	if c.closed.Load() {
		return Status{}, ErrClosed
	}
	c.stats.IncCounter(stats.MetricReads, 1)

	if !c.needsRefresh() {
		return Status{RefreshedAt: c.store.LastRefreshTime()}, nil
	}

	err := c.refresh(ctx, false)
	last := c.store.LastRefreshTime()
	if err == nil {
		return Status{RefreshedAt: last}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Status{}, ctxErr
	}
	if last.IsZero() {
		return Status{}, err
	}

	c.stats.IncCounter(stats.MetricStaleServes, 1)
	c.logger.Warn("serving stale inventory",
		zap.Time("refreshedAt", last),
		zap.Error(err),
	)
	return Status{RefreshedAt: last, Stale: true, RefreshErr: err}, nil
}

func (c *Client) needsRefresh() bool {
	return c.resync.Load() || freshness.IsStale(c.store.LastRefreshTime(), c.now(), c.ttl)
}

// lookupRemote fetches one book that is missing from a fresh cache.
func (c *Client) lookupRemote(ctx context.Context, id string) (Book, error) {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rec, err := c.source.GetBook(rctx, id)
	if errors.Is(err, remote.ErrNotFound) {
		c.misses.Add(id)
		return Book{}, bookNotFound(id)
	}
	if err != nil {
		return Book{}, remote.Wrap("get book", err)
	}

	b, err := inventory.ParseBook(rec)
	if err != nil {
		c.stats.IncCounter(stats.MetricParseErrors, 1)
		c.logger.Warn("malformed book record", zap.String("bookID", id), zap.Error(err))
		return Book{}, err
	}
	if err := c.store.Upsert(b); err != nil {
		return Book{}, err
	}

	c.logger.Debug("cached book added since last refresh", zap.String("bookID", id))
	return b, nil
}

// scheduleResync makes the next read refresh even within the TTL.
func (c *Client) scheduleResync(reason string, fields ...zap.Field) {
	c.resync.Store(true)
	c.stats.IncCounter(stats.MetricResyncsScheduled, 1)
	c.logger.Warn("resync scheduled", append([]zap.Field{zap.String("reason", reason)}, fields...)...)
}
