package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocker_SameKeyExclusive(t *testing.T) {
	l := New()
	ctx := context.Background()

	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "book")
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			defer unlock()

			if n := inside.Add(1); n != 1 {
				t.Errorf("%d holders inside the critical section", n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	if l.Len() != 0 {
		t.Errorf("Len() = %d after all unlocks, want 0", l.Len())
	}
}

func TestLocker_DifferentKeysConcurrent(t *testing.T) {
	l := New()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("Lock(a) error = %v", err)
	}
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := l.Lock(ctx, "b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Lock(b) blocked while a was held")
	}
}

func TestLocker_ContextCancelled(t *testing.T) {
	l := New()

	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Lock() error = %v, want DeadlineExceeded", err)
	}

	unlock()
	unlock() // Second call is a no-op.

	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}

	// The key is usable again.
	unlock, err = l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	unlock()
}

func TestLocker_AlreadyCancelled(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 20; i++ {
		if _, err := l.Lock(ctx, "rec1"); !errors.Is(err, context.Canceled) {
			t.Fatalf("Lock() error = %v, want Canceled", err)
		}
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
}
