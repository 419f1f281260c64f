package shelf

import (
	"errors"
	"fmt"

	"github.com/discochess/shelf/internal/inventory"
	"github.com/discochess/shelf/internal/remote"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrNotFound indicates an unknown book or user id.
	ErrNotFound = errors.New("shelf: not found")

	// ErrConflict indicates a checkout or return would push the available
	// count outside [0, in stock]. Returned errors are *ConflictError.
	ErrConflict = errors.New("shelf: available count out of range")

	// ErrInvalidID indicates an empty book or user id.
	ErrInvalidID = errors.New("shelf: invalid id")

	// ErrClosed indicates the client has been closed.
	ErrClosed = errors.New("shelf: client closed")

	// ErrNoSource indicates no remote source was provided.
	ErrNoSource = errors.New("shelf: no remote source provided")

	// ErrNoWriter indicates a mutation on a client without a remote writer.
	ErrNoWriter = errors.New("shelf: no remote writer provided")
)

// NetworkError reports an unreachable remote, a timeout or a non-success
// response.
type NetworkError = remote.NetworkError

// ParseError reports a remote record that is missing a mandatory field or
// holds a value of the wrong type.
type ParseError = inventory.ParseError

// ConflictError is returned when a mutation would leave the available count
// outside [0, InStock]. It matches ErrConflict.
type ConflictError struct {
	BookID    string
	Direction Direction
	Available int
	InStock   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("shelf: cannot record %q for book %s: %d of %d copies available",
		e.Direction, e.BookID, e.Available, e.InStock)
}

// Is makes errors.Is(err, ErrConflict) succeed.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// RefreshError is returned when a full refresh fails. It wraps the
// underlying *NetworkError.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("shelf: refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

func bookNotFound(id string) error {
	return fmt.Errorf("%w: book %q", ErrNotFound, id)
}

func userNotFound(id string) error {
	return fmt.Errorf("%w: user %q", ErrNotFound, id)
}
