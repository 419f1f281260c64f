// Package cache holds the in-memory inventory snapshot served to readers.
//
// A Store is replaced wholesale by a completed refresh and mutated one book
// at a time by successful checkouts and returns. Readers share a read lock
// and never wait on network I/O.
package cache

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/discochess/shelf/internal/inventory"
	"github.com/discochess/shelf/internal/stats"
)

var (
	// ErrNotFound is returned when a book is not in the cache.
	ErrNotFound = errors.New("cache: book not found")

	// ErrOutOfRange is returned when an update would break
	// 0 <= available <= in stock.
	ErrOutOfRange = errors.New("cache: available count out of range")
)

// Stats contains cache statistics.
type Stats struct {
	Books       int
	Users       int
	RefreshedAt time.Time
	Hits        int64
	Misses      int64
}

// HitRate returns the lookup hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Store is a thread-safe mapping from book id to Book, plus the borrower
// list and the time the last full refresh completed.
type Store struct {
	collector stats.Collector

	mu          sync.RWMutex
	books       map[string]inventory.Book
	users       map[string]inventory.User
	refreshedAt time.Time

	// gen advances on every in-place count update; updated records the
	// generation at which each book was last updated.
	gen     uint64
	updated map[string]uint64

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates an empty store that has never been refreshed.
// The collector is optional; if nil, a no-op collector is used.
func New(collector stats.Collector) *Store {
	if collector == nil {
		collector = stats.NewNoop()
	}
	return &Store{
		collector: collector,
		books:     make(map[string]inventory.Book),
		users:     make(map[string]inventory.User),
		updated:   make(map[string]uint64),
	}
}

// ReadSnapshot returns a copy of every cached book, ordered by id.
// The result is safe to use after the call returns.
func (s *Store) ReadSnapshot() []inventory.Book {
	s.mu.RLock()
	books := make([]inventory.Book, 0, len(s.books))
	for _, b := range s.books {
		books = append(books, b)
	}
	s.mu.RUnlock()

	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books
}

// Get returns the cached book with the given id.
func (s *Store) Get(id string) (inventory.Book, bool) {
	s.mu.RLock()
	b, ok := s.books[id]
	s.mu.RUnlock()

	if ok {
		s.hits.Add(1)
		s.collector.IncCounter(stats.MetricLookupHits, 1)
	} else {
		s.misses.Add(1)
		s.collector.IncCounter(stats.MetricLookupMisses, 1)
	}
	return b, ok
}

// Users returns a copy of the cached borrowers, ordered by name then id.
func (s *Store) Users() []inventory.User {
	s.mu.RLock()
	users := make([]inventory.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID < users[j].ID
	})
	return users
}

// User returns the cached borrower with the given id.
func (s *Store) User(id string) (inventory.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// ReplaceAll swaps in a complete new snapshot and records refreshedAt as the
// last refresh time. Later duplicates of an id win.
func (s *Store) ReplaceAll(books []inventory.Book, users []inventory.User, refreshedAt time.Time) {
	bookMap, userMap := index(books, users)

	s.mu.Lock()
	s.books = bookMap
	s.users = userMap
	s.refreshedAt = refreshedAt
	s.updated = make(map[string]uint64)
	s.mu.Unlock()

	s.setGauges(len(bookMap), len(userMap))
}

// ReplaceSince is ReplaceAll for a snapshot whose fetch began when
// Generation returned gen. Counts updated in place after gen are newer than
// the fetched ones and are carried into the new snapshot, provided the book
// is still present and the count fits its stock. It returns the ids carried
// over.
func (s *Store) ReplaceSince(gen uint64, books []inventory.Book, users []inventory.User, refreshedAt time.Time) []string {
	bookMap, userMap := index(books, users)

	s.mu.Lock()
	var carried []string
	updated := make(map[string]uint64)
	for id, g := range s.updated {
		if g <= gen {
			continue
		}
		cur, ok := s.books[id]
		next, found := bookMap[id]
		if !ok || !found || cur.Available > next.InStock {
			continue
		}
		next.Available = cur.Available
		bookMap[id] = next
		updated[id] = g
		carried = append(carried, id)
	}
	s.books = bookMap
	s.users = userMap
	s.refreshedAt = refreshedAt
	s.updated = updated
	s.mu.Unlock()

	s.setGauges(len(bookMap), len(userMap))
	sort.Strings(carried)
	return carried
}

// Generation returns the current in-place update generation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// index builds the lookup maps outside the lock so readers only wait for
// the swap.
func index(books []inventory.Book, users []inventory.User) (map[string]inventory.Book, map[string]inventory.User) {
	bookMap := make(map[string]inventory.Book, len(books))
	for _, b := range books {
		bookMap[b.ID] = b
	}
	userMap := make(map[string]inventory.User, len(users))
	for _, u := range users {
		userMap[u.ID] = u
	}
	return bookMap, userMap
}

func (s *Store) setGauges(books, users int) {
	s.collector.SetGauge(stats.MetricCacheSize, int64(books))
	s.collector.SetGauge(stats.MetricUsers, int64(users))
}

// UpdateAvailable sets the available count of one book in place and returns
// the updated book. It fails with ErrNotFound if the id is not cached, for
// example because a concurrent refresh dropped it.
func (s *Store) UpdateAvailable(id string, available int) (inventory.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[id]
	if !ok {
		return inventory.Book{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if available < 0 || available > b.InStock {
		return inventory.Book{}, fmt.Errorf("%w: %d not in [0, %d]", ErrOutOfRange, available, b.InStock)
	}
	b.Available = available
	s.books[id] = b
	s.gen++
	s.updated[id] = s.gen
	return b, nil
}

// Upsert adds or replaces a single book without touching the refresh time.
func (s *Store) Upsert(b inventory.Book) error {
	if err := b.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.books[b.ID] = b
	n := len(s.books)
	s.mu.Unlock()

	s.collector.SetGauge(stats.MetricCacheSize, int64(n))
	return nil
}

// LastRefreshTime returns when the last full refresh completed, or the zero
// time if none has.
func (s *Store) LastRefreshTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt
}

// Stats returns current cache statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	books, users, at := len(s.books), len(s.users), s.refreshedAt
	s.mu.RUnlock()

	return Stats{
		Books:       books,
		Users:       users,
		RefreshedAt: at,
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
	}
}
