// Package disksink writes exports to a local directory.
package disksink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/discochess/shelf/internal/sink"
)

// Compile-time check that Sink implements sink.Sink.
var _ sink.Sink = (*Sink)(nil)

// Sink is a directory on the local filesystem.
type Sink struct {
	root string
}

// New creates a sink rooted at dir, creating the directory if needed.
func New(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	return &Sink{root: dir}, nil
}

// Put writes the object atomically: readers never see a partial file.
func (s *Sink) Put(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.root, "."+name+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return fmt.Errorf("renaming %s: %w", name, err)
	}
	return nil
}

// List returns the files in the directory that start with prefix.
func (s *Sink) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading export directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a file.
func (s *Sink) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sink.ErrNotFound
		}
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

// Location returns the file path of name.
func (s *Sink) Location(name string) string {
	return s.path(name)
}

// Close is a no-op.
func (s *Sink) Close() error {
	return nil
}

func (s *Sink) path(name string) string {
	return filepath.Join(s.root, name)
}
