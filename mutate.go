package shelf

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/discochess/shelf/internal/inventory"
	"github.com/discochess/shelf/internal/remote"
	"github.com/discochess/shelf/internal/stats"
)

// maxSettleAttempts bounds the refreshes a mutation runs before validating.
const maxSettleAttempts = 3

var errResyncPending = errors.New("shelf: resync still pending")

// Checkout lends one copy of a book to a user and returns the updated book.
//
// The new count is written to the remote store before the cache is touched.
// Returns ErrNotFound for unknown ids, *ConflictError when no copy is
// available, and *NetworkError when the remote write fails.
func (c *Client) Checkout(ctx context.Context, bookID, userID string) (Book, error) {
	return c.mutate(ctx, bookID, userID, CheckOut)
}

// Return puts one copy of a book back and returns the updated book.
// Errors are as for Checkout; returning more copies than are in stock is a
// conflict.
func (c *Client) Return(ctx context.Context, bookID, userID string) (Book, error) {
	return c.mutate(ctx, bookID, userID, Return)
}

func (c *Client) mutate(ctx context.Context, bookID, userID string, dir Direction) (Book, error) {
	if c.writer == nil {
		return Book{}, ErrNoWriter
	}
	if bookID == "" || userID == "" {
		return Book{}, ErrInvalidID
	}
	if _, err := c.ensureFresh(ctx); err != nil {
		return Book{}, err
	}
	if err := c.checkUser(userID); err != nil {
		return Book{}, err
	}

	// Mutations of one book are serialized so the count validated below is
	// still current when it is written.
	unlock, err := c.locks.Lock(ctx, bookID)
	if err != nil {
		return Book{}, err
	}
	defer unlock()

	// A resync scheduled while this call waited for the lock means the
	// cached count may be behind the remote one.
	if err := c.settle(ctx); err != nil {
		return Book{}, err
	}

	book, ok := c.store.Get(bookID)
	if !ok {
		return Book{}, bookNotFound(bookID)
	}

	proposed := book.Available + dir.Delta()
	if proposed < 0 || proposed > book.InStock {
		c.stats.IncCounter(stats.MetricConflicts, 1)
		return Book{}, &ConflictError{
			BookID:    bookID,
			Direction: dir,
			Available: book.Available,
			InStock:   book.InStock,
		}
	}

	if err := c.writeCount(ctx, bookID, proposed); err != nil {
		return Book{}, err
	}

	// The count write is the commit point: finish logging it even if the
	// caller has gone away.
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	err = c.writer.AppendAccess(lctx, inventory.AccessEntry{
		UserID:    userID,
		BookID:    bookID,
		At:        c.now(),
		Direction: dir,
	})
	cancel()
	if err != nil {
		c.stats.IncCounter(stats.MetricRemoteErrors, 1)
		c.scheduleResync("access log append failed after count write",
			zap.String("bookID", bookID), zap.Error(err))
		return Book{}, remote.Wrap("append access log", err)
	}

	updated, err := c.store.UpdateAvailable(bookID, proposed)
	if err != nil {
		// The remote store already holds the new count; only the cache
		// is behind.
		c.scheduleResync("cache update failed after remote commit",
			zap.String("bookID", bookID), zap.Error(err))
		updated = book
		updated.Available = proposed
	}

	if dir == CheckOut {
		c.stats.IncCounter(stats.MetricCheckouts, 1)
	} else {
		c.stats.IncCounter(stats.MetricReturns, 1)
	}
	c.logger.Info("inventory updated",
		zap.Stringer("direction", dir),
		zap.String("bookID", bookID),
		zap.String("userID", userID),
		zap.Int("available", updated.Available),
		zap.Int("inStock", updated.InStock),
	)
	return updated, nil
}

// writeCount commits the new available count remotely.
func (c *Client) writeCount(ctx context.Context, bookID string, available int) error {
	wctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.writer.SetAvailable(wctx, bookID, available)
	if err == nil {
		return nil
	}

	c.stats.IncCounter(stats.MetricRemoteErrors, 1)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// The write may or may not have landed.
		c.scheduleResync("count write outcome unknown",
			zap.String("bookID", bookID), zap.Error(err))
	}
	if errors.Is(err, remote.ErrNotFound) {
		c.scheduleResync("book deleted remotely", zap.String("bookID", bookID))
		return bookNotFound(bookID)
	}
	return remote.Wrap("set available", err)
}

// settle refreshes until no resync is pending. Mutations of other books can
// keep scheduling resyncs, so it gives up after maxSettleAttempts.
func (c *Client) settle(ctx context.Context) error {
	for i := 0; c.resync.Load(); i++ {
		if i == maxSettleAttempts {
			return &RefreshError{Err: errResyncPending}
		}
		if err := c.refresh(ctx, false); err != nil {
			return err
		}
	}
	return nil
}

// checkUser rejects borrowers missing from a non-empty cached roster.
func (c *Client) checkUser(id string) error {
	if c.store.Stats().Users == 0 {
		return nil
	}
	if _, ok := c.store.User(id); !ok {
		return userNotFound(id)
	}
	return nil
}
