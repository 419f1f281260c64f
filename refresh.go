package shelf

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/discochess/shelf/internal/inventory"
	"github.com/discochess/shelf/internal/remote"
	"github.com/discochess/shelf/internal/stats"
)

// refreshKey is the single-flight key shared by every refresh.
const refreshKey = "refresh"

// Refresh reloads the whole inventory from the remote store, joining a
// refresh already in flight if there is one. Failures leave the previous
// snapshot in place and are returned as *RefreshError.
func (c *Client) Refresh(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.refresh(ctx, true)
}

// refresh runs or joins the single in-flight refresh. The fetch runs on a
// context detached from the caller, so a caller that gives up does not fail
// the others waiting on it.
func (c *Client) refresh(ctx context.Context, force bool) error {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		return nil, c.doRefresh(rctx, force)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.stats.IncCounter(stats.MetricRefreshJoins, 1)
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) doRefresh(ctx context.Context, force bool) error {
	// A caller that saw stale data may arrive just after another refresh
	// finished.
	if !force && !c.needsRefresh() {
		return nil
	}

	start := time.Now()
	gen := c.store.Generation()
	pending := c.resync.Swap(false)

	fail := func(op string, err error) error {
		if pending {
			c.resync.Store(true)
		}
		c.stats.IncCounter(stats.MetricRefreshFailures, 1)
		c.logger.Warn("refresh failed", zap.String("op", op), zap.Error(err))
		return &RefreshError{Err: remote.Wrap(op, err)}
	}

	bookRecords, err := remote.CollectAll(ctx, c.timed(c.source.ListBooks))
	if err != nil {
		return fail("list books", err)
	}
	userRecords, err := remote.CollectAll(ctx, c.timed(c.source.ListUsers))
	if err != nil {
		return fail("list users", err)
	}

	books := make([]Book, 0, len(bookRecords))
	for _, r := range bookRecords {
		b, err := inventory.ParseBook(r)
		if err != nil {
			c.skipRecord("book", r.ID, err)
			continue
		}
		books = append(books, b)
	}

	users := make([]User, 0, len(userRecords))
	for _, r := range userRecords {
		u, err := inventory.ParseUser(r)
		if err != nil {
			c.skipRecord("user", r.ID, err)
			continue
		}
		users = append(users, u)
	}

	// Checkouts and returns that finished while pages were being fetched
	// keep their counts; the fetched pages may predate them.
	carried := c.store.ReplaceSince(gen, books, users, c.now())
	c.misses.Purge()
	if len(carried) > 0 {
		c.logger.Debug("kept counts updated during refresh", zap.Strings("bookIDs", carried))
	}

	elapsed := time.Since(start)
	c.stats.IncCounter(stats.MetricRefreshes, 1)
	c.stats.ObserveHistogram(stats.MetricRefreshDuration, elapsed.Seconds())
	c.logger.Info("inventory refreshed",
		zap.Int("books", len(books)),
		zap.Int("users", len(users)),
		zap.Int("skipped", len(bookRecords)-len(books)+len(userRecords)-len(users)),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

// timed bounds every page request by the per-call timeout.
func (c *Client) timed(list remote.ListFunc) remote.ListFunc {
	return func(ctx context.Context, offset string) (remote.Page, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return list(ctx, offset)
	}
}

func (c *Client) skipRecord(kind, id string, err error) {
	c.stats.IncCounter(stats.MetricParseErrors, 1)
	c.logger.Warn("skipping malformed record",
		zap.String("kind", kind),
		zap.String("recordID", id),
		zap.Error(err),
	)
}
