// Package inventory defines the lending library records (books, borrowers,
// access-log entries) and how they are parsed from remote table rows.
package inventory

import (
	"fmt"
	"time"
)

// Book is one inventory item.
type Book struct {
	// ID is the stable identifier assigned by the remote store.
	ID string `json:"id"`

	Title string `json:"title"`

	// Authors is free text and may be empty.
	Authors string `json:"authors,omitempty"`

	// Available is the number of copies currently on the shelf.
	Available int `json:"available"`

	// InStock is the number of copies the library owns.
	InStock int `json:"in_stock"`
}

// CheckedOut returns the number of copies currently lent out.
func (b Book) CheckedOut() int {
	return b.InStock - b.Available
}

// Validate reports whether the counts satisfy 0 <= Available <= InStock.
func (b Book) Validate() error {
	if b.InStock < 0 || b.Available < 0 || b.Available > b.InStock {
		return fmt.Errorf("%w: available=%d in_stock=%d", ErrInvalidCount, b.Available, b.InStock)
	}
	return nil
}

// User is a borrower. Users are never mutated locally.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Direction is the kind of an access-log event.
type Direction int

const (
	// CheckOut takes a copy off the shelf.
	CheckOut Direction = iota + 1
	// Return puts a copy back.
	Return
)

// String returns the label the remote access log uses for d.
func (d Direction) String() string {
	switch d {
	case CheckOut:
		return "Checking out"
	case Return:
		return "Returning"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Delta returns the change d applies to a book's available count.
func (d Direction) Delta() int {
	switch d {
	case CheckOut:
		return -1
	case Return:
		return 1
	default:
		return 0
	}
}

// AccessEntry is a single checkout or return event. Entries are append-only
// and only ever forwarded to the remote access log.
type AccessEntry struct {
	UserID    string
	BookID    string
	At        time.Time
	Direction Direction
}
