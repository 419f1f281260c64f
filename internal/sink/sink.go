// Package sink defines where inventory exports are written.
package sink

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrNotFound is returned when an object does not exist in the sink.
var ErrNotFound = errors.New("sink: object not found")

// Sink stores export objects under flat names.
type Sink interface {
	// Put writes the object name with the content of r, replacing any
	// existing object.
	Put(ctx context.Context, name string, r io.Reader) error

	// List returns the names of the objects starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object name.
	Delete(ctx context.Context, name string) error

	// Location returns a human-readable address for name, such as a path
	// or a gs:// or s3:// URL.
	Location(name string) string

	// Close releases any resources held by the sink.
	Close() error
}

// NormalizePrefix returns prefix with exactly one trailing slash, or "".
func NormalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
