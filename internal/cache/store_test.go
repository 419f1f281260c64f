package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/discochess/shelf/internal/inventory"
	"github.com/discochess/shelf/internal/stats"
)

func testBooks() []inventory.Book {
	return []inventory.Book{
		{ID: "b2", Title: "Emma", Available: 1, InStock: 2},
		{ID: "b1", Title: "Dune", Available: 0, InStock: 1},
		{ID: "b3", Title: "Ulysses", Available: 3, InStock: 3},
	}
}

func TestStore_Empty(t *testing.T) {
	s := New(nil)

	if got := s.ReadSnapshot(); len(got) != 0 {
		t.Errorf("ReadSnapshot() = %v, want empty", got)
	}
	if !s.LastRefreshTime().IsZero() {
		t.Error("LastRefreshTime() should be zero before any refresh")
	}
	if _, ok := s.Get("b1"); ok {
		t.Error("Get() should miss on empty store")
	}
}

func TestStore_ReplaceAll(t *testing.T) {
	m := stats.NewMemory()
	s := New(m)
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	s.ReplaceAll(testBooks(), []inventory.User{{ID: "u1", Name: "Ada"}}, at)

	snap := s.ReadSnapshot()
	if len(snap) != 3 {
		t.Fatalf("ReadSnapshot() len = %d, want 3", len(snap))
	}
	for i, id := range []string{"b1", "b2", "b3"} {
		if snap[i].ID != id {
			t.Errorf("snapshot[%d].ID = %q, want %q", i, snap[i].ID, id)
		}
	}
	if !s.LastRefreshTime().Equal(at) {
		t.Errorf("LastRefreshTime() = %v, want %v", s.LastRefreshTime(), at)
	}
	if got := m.Gauge(stats.MetricCacheSize); got != 3 {
		t.Errorf("cache size gauge = %d, want 3", got)
	}
	if _, ok := s.User("u1"); !ok {
		t.Error("User(u1) should be cached")
	}

	// A second refresh drops ids that disappeared upstream.
	s.ReplaceAll(testBooks()[:1], nil, at.Add(time.Hour))
	if _, ok := s.Get("b1"); ok {
		t.Error("Get(b1) should miss after replacement dropped it")
	}
	if len(s.Users()) != 0 {
		t.Error("Users() should be empty after replacement")
	}
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := New(nil)
	s.ReplaceAll(testBooks(), nil, time.Now())

	snap := s.ReadSnapshot()
	snap[0].Available = 99

	b, _ := s.Get(snap[0].ID)
	if b.Available == 99 {
		t.Error("mutating a snapshot must not affect the store")
	}
}

func TestStore_UpdateAvailable(t *testing.T) {
	s := New(nil)
	at := time.Now()
	s.ReplaceAll(testBooks(), nil, at)

	b, err := s.UpdateAvailable("b2", 0)
	if err != nil {
		t.Fatalf("UpdateAvailable() error = %v", err)
	}
	if b.Available != 0 {
		t.Errorf("Available = %d, want 0", b.Available)
	}
	if got, _ := s.Get("b2"); got.Available != 0 {
		t.Errorf("stored Available = %d, want 0", got.Available)
	}
	if !s.LastRefreshTime().Equal(at) {
		t.Error("UpdateAvailable() must not touch the refresh time")
	}

	if _, err := s.UpdateAvailable("missing", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateAvailable(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.UpdateAvailable("b2", 3); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("UpdateAvailable(over stock) error = %v, want ErrOutOfRange", err)
	}
	if _, err := s.UpdateAvailable("b2", -1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("UpdateAvailable(negative) error = %v, want ErrOutOfRange", err)
	}
}

func TestStore_Upsert(t *testing.T) {
	s := New(nil)

	if err := s.Upsert(inventory.Book{ID: "b9", Title: "Kim", Available: 1, InStock: 1}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, ok := s.Get("b9"); !ok {
		t.Error("Get(b9) should hit after Upsert")
	}
	if !s.LastRefreshTime().IsZero() {
		t.Error("Upsert() must not set the refresh time")
	}
	if err := s.Upsert(inventory.Book{ID: "bad", Available: 2, InStock: 1}); err == nil {
		t.Error("Upsert() should reject an invalid book")
	}
}

func TestStore_Stats(t *testing.T) {
	s := New(nil)
	s.ReplaceAll(testBooks(), []inventory.User{{ID: "u1"}, {ID: "u2"}}, time.Now())

	s.Get("b1")
	s.Get("nope")

	st := s.Stats()
	if st.Books != 3 || st.Users != 2 {
		t.Errorf("Stats() = %+v", st)
	}
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Stats() hits/misses = %d/%d, want 1/1", st.Hits, st.Misses)
	}
	if st.HitRate() != 50 {
		t.Errorf("HitRate() = %v, want 50", st.HitRate())
	}
}

func TestStore_ConcurrentReadersAndWriters(t *testing.T) {
	s := New(nil)
	s.ReplaceAll(testBooks(), nil, time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				for _, b := range s.ReadSnapshot() {
					if b.Available < 0 || b.Available > b.InStock {
						t.Errorf("observed invalid book %+v", b)
						return
					}
				}
			}
		}()
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if j%50 == 0 {
					s.ReplaceAll(testBooks(), nil, time.Now())
				}
				_, _ = s.UpdateAvailable("b3", (i+j)%4)
			}
		}(i)
	}
	wg.Wait()
}

func TestStore_ReplaceSince(t *testing.T) {
	s := New(nil)
	s.ReplaceAll(testBooks(), nil, time.Now())

	gen := s.Generation()
	// Updated while the next snapshot was being fetched.
	if _, err := s.UpdateAvailable("b2", 0); err != nil {
		t.Fatalf("UpdateAvailable() error = %v", err)
	}
	if _, err := s.UpdateAvailable("b3", 1); err != nil {
		t.Fatalf("UpdateAvailable() error = %v", err)
	}
	if s.Generation() != gen+2 {
		t.Errorf("Generation() = %d, want %d", s.Generation(), gen+2)
	}

	fetched := []inventory.Book{
		{ID: "b1", Title: "Dune", Available: 1, InStock: 1},
		{ID: "b2", Title: "Emma", Available: 1, InStock: 2},
		// b3 is gone upstream.
	}
	carried := s.ReplaceSince(gen, fetched, nil, time.Now())
	if len(carried) != 1 || carried[0] != "b2" {
		t.Errorf("ReplaceSince() carried = %v, want [b2]", carried)
	}

	if b, _ := s.Get("b2"); b.Available != 0 {
		t.Errorf("b2 available = %d, want 0 (kept)", b.Available)
	}
	if b, _ := s.Get("b1"); b.Available != 1 {
		t.Errorf("b1 available = %d, want 1 (fetched)", b.Available)
	}
	if _, ok := s.Get("b3"); ok {
		t.Error("b3 should be dropped")
	}

	// A later refresh that began after the update takes the fetched value.
	fetched[1].Available = 2
	if carried := s.ReplaceSince(s.Generation(), fetched, nil, time.Now()); len(carried) != 0 {
		t.Errorf("ReplaceSince() carried = %v, want none", carried)
	}
	if b, _ := s.Get("b2"); b.Available != 2 {
		t.Errorf("b2 available = %d, want 2", b.Available)
	}
}

func TestStore_ReplaceSince_StockShrank(t *testing.T) {
	s := New(nil)
	s.ReplaceAll(testBooks(), nil, time.Now())

	gen := s.Generation()
	if _, err := s.UpdateAvailable("b3", 2); err != nil {
		t.Fatalf("UpdateAvailable() error = %v", err)
	}

	carried := s.ReplaceSince(gen, []inventory.Book{{ID: "b3", Title: "Ulysses", Available: 1, InStock: 1}}, nil, time.Now())
	if len(carried) != 0 {
		t.Errorf("ReplaceSince() carried = %v, want none", carried)
	}
	if b, _ := s.Get("b3"); b.Available != 1 {
		t.Errorf("b3 available = %d, want 1", b.Available)
	}
}
