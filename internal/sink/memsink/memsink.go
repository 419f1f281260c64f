// Package memsink provides an in-memory sink for testing.
package memsink

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/discochess/shelf/internal/sink"
)

// Compile-time check that Sink implements sink.Sink.
var _ sink.Sink = (*Sink)(nil)

// Sink keeps objects in memory.
type Sink struct {
	mu      sync.RWMutex
	objects map[string][]byte
	putErr  error
}

// New creates an empty sink.
func New() *Sink {
	return &Sink{objects: make(map[string][]byte)}
}

// FailPuts makes Put fail with err. Pass nil to recover.
func (s *Sink) FailPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

// Object returns the stored content of name.
func (s *Sink) Object(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[name]
	return data, ok
}

// Put stores a copy of the content of r.
func (s *Sink) Put(ctx context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.objects[name] = data
	return nil
}

// List returns the stored names starting with prefix, sorted.
func (s *Sink) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for name := range s.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes an object.
func (s *Sink) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[name]; !ok {
		return sink.ErrNotFound
	}
	delete(s.objects, name)
	return nil
}

// Location returns a mem:// URL for name.
func (s *Sink) Location(name string) string {
	return "mem://" + name
}

// Close is a no-op.
func (s *Sink) Close() error {
	return nil
}
