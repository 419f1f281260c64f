package shelf

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/discochess/shelf/internal/inventory"
	"github.com/discochess/shelf/internal/remote"
	"github.com/discochess/shelf/internal/remote/memremote"
	"github.com/discochess/shelf/internal/stats"
)

func TestClient_CheckoutReturnRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.client.Checkout(ctx, "recDune", "usrAda")
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if b.Available != 2 || b.InStock != 5 {
		t.Errorf("Checkout() = %+v, want 2/5", b)
	}
	if rb, _ := f.remote.Book("recDune"); rb.Available != 2 {
		t.Errorf("remote available = %d, want 2", rb.Available)
	}

	b, err = f.client.Return(ctx, "recDune", "usrAda")
	if err != nil {
		t.Fatalf("Return() error = %v", err)
	}
	if b.Available != 3 {
		t.Errorf("Return() = %+v, want 3/5", b)
	}

	cached, _ := f.client.GetBook(ctx, "recDune")
	if cached.Available != 3 {
		t.Errorf("cached available = %d, want 3", cached.Available)
	}
	if rb, _ := f.remote.Book("recDune"); rb.Available != 3 {
		t.Errorf("remote available = %d, want 3", rb.Available)
	}

	log := f.remote.AccessLog()
	if len(log) != 2 {
		t.Fatalf("access log has %d entries, want 2", len(log))
	}
	if log[0].Direction != CheckOut || log[1].Direction != Return {
		t.Errorf("access log directions = %v, %v", log[0].Direction, log[1].Direction)
	}
	if log[0].UserID != "usrAda" || log[0].BookID != "recDune" || !log[0].At.Equal(f.clock.Now()) {
		t.Errorf("access log entry = %+v", log[0])
	}

	// Mutations are applied in place, never by refetching.
	if got := f.remote.BookListings(); got != 1 {
		t.Errorf("BookListings() = %d, want 1", got)
	}
	if f.stats.Counter(stats.MetricCheckouts) != 1 || f.stats.Counter(stats.MetricReturns) != 1 {
		t.Error("checkout and return counters not incremented")
	}
}

func TestClient_MutationConflicts(t *testing.T) {
	tests := []struct {
		name   string
		bookID string
		dir    Direction
		avail  int
		stock  int
	}{
		{name: "checkout with none available", bookID: "recEmma", dir: CheckOut, avail: 0, stock: 5},
		{name: "return with all on the shelf", bookID: "recKim", dir: Return, avail: 2, stock: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			var err error
			if tt.dir == CheckOut {
				_, err = f.client.Checkout(ctx, tt.bookID, "usrBob")
			} else {
				_, err = f.client.Return(ctx, tt.bookID, "usrBob")
			}

			if !errors.Is(err, ErrConflict) {
				t.Fatalf("error = %v, want ErrConflict", err)
			}
			var ce *ConflictError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %T, want *ConflictError", err)
			}
			if ce.BookID != tt.bookID || ce.Available != tt.avail || ce.InStock != tt.stock || ce.Direction != tt.dir {
				t.Errorf("ConflictError = %+v", ce)
			}
			if got := f.remote.WriteCalls(); got != 0 {
				t.Errorf("WriteCalls() = %d, want 0", got)
			}
			if got := len(f.remote.AccessLog()); got != 0 {
				t.Errorf("access log has %d entries, want 0", got)
			}
			b, _ := f.client.GetBook(ctx, tt.bookID)
			if b.Available != tt.avail {
				t.Errorf("cached available = %d, want %d", b.Available, tt.avail)
			}
		})
	}
}

func TestClient_MutationNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.client.Checkout(ctx, "recGhost", "usrAda"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Checkout(unknown book) error = %v, want ErrNotFound", err)
	}
	if _, err := f.client.Checkout(ctx, "recDune", "usrNobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Checkout(unknown user) error = %v, want ErrNotFound", err)
	}
	if _, err := f.client.Checkout(ctx, "", "usrAda"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Checkout(empty book) error = %v, want ErrInvalidID", err)
	}
	if _, err := f.client.Return(ctx, "recDune", ""); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Return(empty user) error = %v, want ErrInvalidID", err)
	}
	if got := f.remote.WriteCalls(); got != 0 {
		t.Errorf("WriteCalls() = %d, want 0", got)
	}
}

func TestClient_MutationWithoutRoster(t *testing.T) {
	mem := memremote.New()
	mem.PutBook(inventory.Book{ID: "recDune", Title: "Dune", Available: 1, InStock: 1})

	c, err := New(WithBackend(mem))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	if _, err := c.Checkout(context.Background(), "recDune", "anyone"); err != nil {
		t.Errorf("Checkout() with empty roster error = %v", err)
	}
}

func TestClient_ReadOnly(t *testing.T) {
	c, err := New(WithSource(memremote.New()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	if _, err := c.Checkout(context.Background(), "recDune", "usrAda"); !errors.Is(err, ErrNoWriter) {
		t.Errorf("Checkout() error = %v, want ErrNoWriter", err)
	}
}

func TestClient_ConcurrentCheckoutsSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.client.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.client.Checkout(ctx, "recDune", "usrAda")
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 3 || conflicts != 1 {
		t.Errorf("got %d successes and %d conflicts, want 3 and 1", ok, conflicts)
	}

	b, _ := f.client.GetBook(ctx, "recDune")
	rb, _ := f.remote.Book("recDune")
	if b.Available != 0 || rb.Available != 0 {
		t.Errorf("available cached=%d remote=%d, want 0", b.Available, rb.Available)
	}
	if got := len(f.remote.AccessLog()); got != 3 {
		t.Errorf("access log has %d entries, want 3", got)
	}
}

func TestClient_CountsStayInRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.client.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	books := []string{"recDune", "recEmma", "recKim"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for j := 0; j < 25; j++ {
				id := books[rng.Intn(len(books))]
				var err error
				if rng.Intn(2) == 0 {
					_, err = f.client.Checkout(ctx, id, "usrBob")
				} else {
					_, err = f.client.Return(ctx, id, "usrBob")
				}
				if err != nil && !errors.Is(err, ErrConflict) {
					t.Errorf("mutation error = %v", err)
				}
			}
		}(int64(i))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			snap, err := f.client.GetAllBooks(ctx)
			if err != nil {
				t.Errorf("GetAllBooks() error = %v", err)
				return
			}
			for _, b := range snap.Books {
				if b.Available < 0 || b.Available > b.InStock {
					t.Errorf("book %s has %d of %d available", b.ID, b.Available, b.InStock)
				}
			}
		}
	}()
	wg.Wait()

	for _, id := range books {
		b, _ := f.client.GetBook(ctx, id)
		rb, _ := f.remote.Book(id)
		if b.Available != rb.Available {
			t.Errorf("book %s cached=%d remote=%d", id, b.Available, rb.Available)
		}
	}
}

func TestClient_WriteFailureLeavesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.GetAllBooks(ctx)
	f.remote.FailWrites(errors.New("502 bad gateway"))

	_, err := f.client.Checkout(ctx, "recDune", "usrAda")

	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("Checkout() error = %v, want *NetworkError", err)
	}
	b, _ := f.client.GetBook(ctx, "recDune")
	rb, _ := f.remote.Book("recDune")
	if b.Available != 3 || rb.Available != 3 {
		t.Errorf("available cached=%d remote=%d, want 3", b.Available, rb.Available)
	}
	if got := len(f.remote.AccessLog()); got != 0 {
		t.Errorf("access log has %d entries, want 0", got)
	}
	if f.client.Stats().ResyncPending {
		t.Error("a rejected write should not schedule a resync")
	}
}

func TestClient_CanceledMutation(t *testing.T) {
	f := newFixture(t)
	f.client.GetAllBooks(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.client.Checkout(ctx, "recDune", "usrAda")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Checkout() error = %v, want Canceled", err)
	}
	rb, _ := f.remote.Book("recDune")
	b, _ := f.client.GetBook(context.Background(), "recDune")
	if rb.Available != 3 || b.Available != 3 {
		t.Errorf("available cached=%d remote=%d, want 3", b.Available, rb.Available)
	}
}

func TestClient_AppendFailureSchedulesResync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.GetAllBooks(ctx)
	f.remote.FailAppends(errors.New("422 unprocessable"))

	_, err := f.client.Checkout(ctx, "recDune", "usrAda")

	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("Checkout() error = %v, want *NetworkError", err)
	}
	if !f.client.Stats().ResyncPending {
		t.Fatal("Stats().ResyncPending = false, want true")
	}

	b, err := f.client.GetBook(ctx, "recDune")
	if err != nil {
		t.Fatalf("GetBook() error = %v", err)
	}
	if b.Available != 2 {
		t.Errorf("available after resync = %d, want 2", b.Available)
	}
	if got := f.remote.BookListings(); got != 2 {
		t.Errorf("BookListings() = %d, want 2", got)
	}
	if f.client.Stats().ResyncPending {
		t.Error("resync should be cleared by the refresh")
	}
}

func TestClient_CacheUpdateFailureRecovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.GetAllBooks(ctx)

	// Drop the book from the cache between the remote commit and the
	// local update.
	f.remote.OnWrite(func(bookID string, _ int) {
		var keep []Book
		for _, b := range f.client.store.ReadSnapshot() {
			if b.ID != bookID {
				keep = append(keep, b)
			}
		}
		f.client.store.ReplaceAll(keep, f.client.store.Users(), f.client.store.LastRefreshTime())
	})

	b, err := f.client.Checkout(ctx, "recDune", "usrAda")
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if b.Available != 2 {
		t.Errorf("Checkout() = %+v, want available 2", b)
	}
	if !f.client.Stats().ResyncPending {
		t.Fatal("Stats().ResyncPending = false, want true")
	}

	f.remote.OnWrite(nil)
	cached, err := f.client.GetBook(ctx, "recDune")
	if err != nil {
		t.Fatalf("GetBook() error = %v", err)
	}
	if cached.Available != 2 {
		t.Errorf("available after resync = %d, want 2", cached.Available)
	}
}

func TestClient_CheckoutDuringRefreshNeedsNoResync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.GetAllBooks(ctx)

	release := f.remote.Hold()
	done := make(chan error, 1)
	go func() { done <- f.client.Refresh(ctx) }()
	waitFor(t, func() bool { return f.remote.BookListings() == 2 })

	if _, err := f.client.Checkout(ctx, "recDune", "usrAda"); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	release()
	if err := <-done; err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if f.client.Stats().ResyncPending {
		t.Error("Stats().ResyncPending = true, want false")
	}
	b, _ := f.client.GetBook(ctx, "recDune")
	if b.Available != 2 {
		t.Errorf("available = %d, want 2", b.Available)
	}
	if got := f.remote.BookListings(); got != 2 {
		t.Errorf("BookListings() = %d, want 2", got)
	}
}

// pausingSource stops after serving the first books page until resumed.
type pausingSource struct {
	*memremote.Store
	armed   atomic.Bool
	fetched chan struct{}
	resume  chan struct{}
}

func (p *pausingSource) ListBooks(ctx context.Context, offset string) (remote.Page, error) {
	page, err := p.Store.ListBooks(ctx, offset)
	if offset == "" && p.armed.CompareAndSwap(true, false) {
		close(p.fetched)
		select {
		case <-p.resume:
		case <-ctx.Done():
			return remote.Page{}, ctx.Err()
		}
	}
	return page, err
}

func TestClient_RefreshKeepsCountsCommittedDuringFetch(t *testing.T) {
	f := newFixture(t)
	src := &pausingSource{
		Store:   f.remote,
		fetched: make(chan struct{}),
		resume:  make(chan struct{}),
	}
	c, err := New(WithSource(src), WithWriter(f.remote), WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if _, err := c.GetAllBooks(ctx); err != nil {
		t.Fatalf("GetAllBooks() error = %v", err)
	}

	src.armed.Store(true)
	refreshed := make(chan error, 1)
	go func() { refreshed <- c.Refresh(ctx) }()
	<-src.fetched // The fetched page still says recDune has 3 available.

	if _, err := c.Checkout(ctx, "recDune", "usrAda"); err != nil {
		t.Fatalf("first Checkout() error = %v", err)
	}

	// The second checkout gets the book only after the refresh has swapped
	// in its snapshot.
	unlock, err := c.locks.Lock(ctx, "recDune")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	second := make(chan error, 1)
	go func() {
		_, err := c.Checkout(ctx, "recDune", "usrBob")
		second <- err
	}()

	close(src.resume)
	if err := <-refreshed; err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	unlock()
	if err := <-second; err != nil {
		t.Fatalf("second Checkout() error = %v", err)
	}

	rb, _ := f.remote.Book("recDune")
	if rb.Available != 1 {
		t.Errorf("remote available = %d, want 1", rb.Available)
	}
	cached, err := c.GetBook(ctx, "recDune")
	if err != nil {
		t.Fatalf("GetBook() error = %v", err)
	}
	if cached.Available != 1 {
		t.Errorf("cached available = %d, want 1", cached.Available)
	}
	if got := len(f.remote.AccessLog()); got != 2 {
		t.Errorf("access log has %d entries, want 2", got)
	}
}

func TestClient_MutationWaitsOutResync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.GetAllBooks(ctx)

	unlock, err := f.client.locks.Lock(ctx, "recDune")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	reads := f.stats.Counter(stats.MetricReads)
	done := make(chan error, 1)
	go func() {
		_, err := f.client.Checkout(ctx, "recDune", "usrAda")
		done <- err
	}()
	waitFor(t, func() bool { return f.stats.Counter(stats.MetricReads) > reads })

	// While the checkout waits, the remote count moves and the cache is
	// marked as behind.
	f.remote.PutBook(inventory.Book{ID: "recDune", Title: "Dune", Authors: "Frank Herbert", Available: 1, InStock: 5})
	f.client.scheduleResync("remote count moved")
	unlock()

	if err := <-done; err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	rb, _ := f.remote.Book("recDune")
	if rb.Available != 0 {
		t.Errorf("remote available = %d, want 0", rb.Available)
	}
	if f.client.Stats().ResyncPending {
		t.Error("resync should be cleared before the write")
	}
}

func TestClient_MutationFailsWhenResyncFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.GetAllBooks(ctx)

	f.client.scheduleResync("remote count moved")
	f.remote.FailListings(errors.New("unreachable"))

	_, err := f.client.Checkout(ctx, "recDune", "usrAda")
	var re *RefreshError
	if !errors.As(err, &re) {
		t.Fatalf("Checkout() error = %v, want *RefreshError", err)
	}
	if got := f.remote.WriteCalls(); got != 0 {
		t.Errorf("WriteCalls() = %d, want 0", got)
	}
}
