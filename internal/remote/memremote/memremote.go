// Package memremote provides an in-memory remote store for testing.
// It paginates like the real API, counts calls, and can inject failures
// and delays.
package memremote

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/discochess/shelf/internal/inventory"
	"github.com/discochess/shelf/internal/remote"
)

// DefaultPageSize matches the page size of the hosted API.
const DefaultPageSize = 100

// Compile-time check that Store implements remote.Backend.
var _ remote.Backend = (*Store)(nil)

// Store is an in-memory remote store.
type Store struct {
	pageSize int

	mu        sync.Mutex
	books     map[string]inventory.Record
	users     map[string]inventory.Record
	accessLog []inventory.AccessEntry

	listErr   error
	writeErr  error
	appendErr error
	listDelay time.Duration
	gate      chan struct{}
	writeHook func(bookID string, available int)

	bookListings int
	userListings int
	pageCalls    int
	getCalls     int
	writeCalls   int
	appendCalls  int
}

// Option configures a Store.
type Option func(*Store)

// WithPageSize sets how many records each page holds.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		pageSize: DefaultPageSize,
		books:    make(map[string]inventory.Record),
		users:    make(map[string]inventory.Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutBook adds or replaces a book.
func (s *Store) PutBook(b inventory.Book) {
	s.PutRecord(inventory.Record{ID: b.ID, Fields: inventory.BookFields(b)})
}

// PutRecord adds or replaces a raw books-table row, which may be malformed.
func (s *Store) PutRecord(r inventory.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[r.ID] = copyRecord(r)
}

// DeleteBook removes a book.
func (s *Store) DeleteBook(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, id)
}

// PutUser adds or replaces a borrower.
func (s *Store) PutUser(u inventory.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = inventory.Record{ID: u.ID, Fields: map[string]any{inventory.FieldName: u.Name}}
}

// Book returns the current remote state of a book.
func (s *Store) Book(id string) (inventory.Book, bool) {
	s.mu.Lock()
	r, ok := s.books[id]
	s.mu.Unlock()
	if !ok {
		return inventory.Book{}, false
	}
	b, err := inventory.ParseBook(r)
	if err != nil {
		return inventory.Book{}, false
	}
	return b, true
}

// AccessLog returns a copy of every appended access-log entry.
func (s *Store) AccessLog() []inventory.AccessEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.AccessEntry(nil), s.accessLog...)
}

// FailListings makes every listing fail with err. Pass nil to recover.
func (s *Store) FailListings(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// FailWrites makes SetAvailable fail with err. Pass nil to recover.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// FailAppends makes AppendAccess fail with err. Pass nil to recover.
func (s *Store) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

// SetListDelay delays every page by d, or until the context is done.
func (s *Store) SetListDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listDelay = d
}

// Hold blocks book listings until the returned release function is called.
func (s *Store) Hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// OnWrite registers fn to run after each successful SetAvailable.
func (s *Store) OnWrite(fn func(bookID string, available int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeHook = fn
}

// BookListings returns how many full book listings were started.
func (s *Store) BookListings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookListings
}

// UserListings returns how many full user listings were started.
func (s *Store) UserListings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userListings
}

// PageCalls returns the total number of page requests.
func (s *Store) PageCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageCalls
}

// GetCalls returns the number of single-record reads.
func (s *Store) GetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

// WriteCalls returns the number of SetAvailable calls, failed or not.
func (s *Store) WriteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeCalls
}

// AppendCalls returns the number of AppendAccess calls, failed or not.
func (s *Store) AppendCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendCalls
}

// ListBooks returns one page of books ordered by id.
func (s *Store) ListBooks(ctx context.Context, offset string) (remote.Page, error) {
	s.mu.Lock()
	s.pageCalls++
	if offset == "" {
		s.bookListings++
	}
	gate, delay, listErr := s.gate, s.listDelay, s.listErr
	s.mu.Unlock()

	if err := wait(ctx, gate, delay); err != nil {
		return remote.Page{}, err
	}
	if listErr != nil {
		return remote.Page{}, listErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page(s.books, offset)
}

// ListUsers returns one page of users ordered by id.
func (s *Store) ListUsers(ctx context.Context, offset string) (remote.Page, error) {
	s.mu.Lock()
	s.pageCalls++
	if offset == "" {
		s.userListings++
	}
	listErr := s.listErr
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return remote.Page{}, err
	}
	if listErr != nil {
		return remote.Page{}, listErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page(s.users, offset)
}

// GetBook returns a single book record.
func (s *Store) GetBook(ctx context.Context, id string) (inventory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++

	if err := ctx.Err(); err != nil {
		return inventory.Record{}, err
	}
	if s.listErr != nil {
		return inventory.Record{}, s.listErr
	}
	r, ok := s.books[id]
	if !ok {
		return inventory.Record{}, remote.ErrNotFound
	}
	return copyRecord(r), nil
}

// SetAvailable updates the available count of a book.
func (s *Store) SetAvailable(ctx context.Context, bookID string, available int) error {
	s.mu.Lock()
	s.writeCalls++
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}
	r, ok := s.books[bookID]
	if !ok {
		s.mu.Unlock()
		return remote.ErrNotFound
	}
	r = copyRecord(r)
	r.Fields[inventory.FieldAvailable] = available
	s.books[bookID] = r
	hook := s.writeHook
	s.mu.Unlock()

	if hook != nil {
		hook(bookID, available)
	}
	return nil
}

// AppendAccess appends an access-log entry.
func (s *Store) AppendAccess(ctx context.Context, entry inventory.AccessEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendCalls++

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.appendErr != nil {
		return s.appendErr
	}
	s.accessLog = append(s.accessLog, entry)
	return nil
}

// page slices records into pages. Must be called with s.mu held.
func (s *Store) page(records map[string]inventory.Record, offset string) (remote.Page, error) {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if offset != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(offset, "itr"))
		if err != nil || n < 0 || n > len(ids) {
			return remote.Page{}, fmt.Errorf("memremote: invalid offset %q", offset)
		}
		start = n
	}

	end := min(start+s.pageSize, len(ids))
	p := remote.Page{Records: make([]inventory.Record, 0, end-start)}
	for _, id := range ids[start:end] {
		p.Records = append(p.Records, copyRecord(records[id]))
	}
	if end < len(ids) {
		p.Offset = "itr" + strconv.Itoa(end)
	}
	return p, nil
}

func wait(ctx context.Context, gate chan struct{}, delay time.Duration) error {
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func copyRecord(r inventory.Record) inventory.Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return inventory.Record{ID: r.ID, Fields: fields}
}
