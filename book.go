package shelf

import (
	"time"

	"github.com/discochess/shelf/internal/inventory"
)

// Book is one inventory item. Every Book returned by a Client satisfies
// 0 <= Available <= InStock.
type Book = inventory.Book

// User is a borrower.
type User = inventory.User

// Direction tells a checkout from a return in the access log.
type Direction = inventory.Direction

// Access-log directions.
const (
	CheckOut = inventory.CheckOut
	Return   = inventory.Return
)

// Status describes how fresh the data behind a read is.
type Status struct {
	// RefreshedAt is when the served data was last fully refreshed.
	RefreshedAt time.Time

	// Stale is set when a needed refresh failed and the previous snapshot
	// was served instead.
	Stale bool

	// RefreshErr is the refresh failure behind Stale.
	RefreshErr error
}

// Snapshot is a point-in-time list of books.
type Snapshot struct {
	Books []Book
	Status
}

// Roster is a point-in-time list of borrowers.
type Roster struct {
	Users []User
	Status
}

// Stats summarizes the state of a Client's cache.
type Stats struct {
	Books         int
	Users         int
	RefreshedAt   time.Time
	Stale         bool
	ResyncPending bool
	LookupHits    int64
	LookupMisses  int64
	// LookupHitRate is the percentage of single-book lookups answered from
	// the cache.
	LookupHitRate float64
	KnownMissing  int
}
