// Package remote defines the interfaces to the remote tabular store that is
// the system of record for the library inventory.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/discochess/shelf/internal/inventory"
)

var (
	// ErrNotFound is returned when a record does not exist remotely.
	ErrNotFound = errors.New("remote: record not found")

	// ErrCursorLoop is returned when a listing hands back a cursor it has
	// already returned.
	ErrCursorLoop = errors.New("remote: pagination cursor repeated")

	// ErrTooManyPages is returned when a listing exceeds MaxPages.
	ErrTooManyPages = errors.New("remote: too many pages")
)

// MaxPages bounds a single paginated listing.
const MaxPages = 10000

// Page is one page of a paginated table listing.
type Page struct {
	Records []inventory.Record

	// Offset is the opaque continuation cursor. Empty on the last page.
	Offset string
}

// Source reads inventory and borrower records.
type Source interface {
	// ListBooks returns the books page starting at offset ("" for the first).
	ListBooks(ctx context.Context, offset string) (Page, error)

	// ListUsers returns the users page starting at offset ("" for the first).
	ListUsers(ctx context.Context, offset string) (Page, error)

	// GetBook returns a single book record, or ErrNotFound.
	GetBook(ctx context.Context, id string) (inventory.Record, error)
}

// Writer updates the remote system of record.
type Writer interface {
	// SetAvailable sets the available-copies field of one book.
	SetAvailable(ctx context.Context, bookID string, available int) error

	// AppendAccess appends one event to the access log.
	AppendAccess(ctx context.Context, entry inventory.AccessEntry) error
}

// Backend is a remote store that can be both read and written.
type Backend interface {
	Source
	Writer
}

// ListFunc fetches one page of a listing.
type ListFunc func(ctx context.Context, offset string) (Page, error)

// CollectAll follows continuation cursors until a page carries none and
// returns every record seen. Any page error aborts the whole listing.
func CollectAll(ctx context.Context, list ListFunc) ([]inventory.Record, error) {
	var (
		records []inventory.Record
		offset  string
		seen    = make(map[string]struct{})
	)

	for page := 1; ; page++ {
		if page > MaxPages {
			return nil, ErrTooManyPages
		}

		p, err := list(ctx, offset)
		if err != nil {
			return nil, fmt.Errorf("fetching page %d: %w", page, err)
		}
		records = append(records, p.Records...)

		if p.Offset == "" {
			return records, nil
		}
		if _, ok := seen[p.Offset]; ok {
			return nil, fmt.Errorf("%w: %q", ErrCursorLoop, p.Offset)
		}
		seen[p.Offset] = struct{}{}
		offset = p.Offset
	}
}

// NetworkError reports a failed remote operation: unreachable store,
// timeout, or non-success response.
type NetworkError struct {
	// Op names the operation, e.g. "list books" or "set available".
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the operation ran out of time.
func (e *NetworkError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Wrap returns err as a *NetworkError for op. Nil stays nil, and errors
// that already are NetworkErrors are returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return err
	}
	return &NetworkError{Op: op, Err: err}
}
