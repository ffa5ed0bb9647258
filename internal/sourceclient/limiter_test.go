package sourceclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return nil
}

func newTestLimiter(max int, window time.Duration, clock *fakeClock) *WindowLimiter {
	l := NewWindowLimiter(max, window)
	l.now = clock.now
	l.sleep = clock.sleep
	return l
}

func TestWindowLimiter_NeverExceedsMaxPerWindow(t *testing.T) {
	start := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: start}
	window := 5 * time.Minute
	l := newTestLimiter(10, window, clock)

	var dispatched []time.Time
	for i := 0; i < 25; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
		dispatched = append(dispatched, clock.now())
	}

	perWindow := map[int64]int{}
	for _, ts := range dispatched {
		perWindow[int64(ts.Sub(start)/window)]++
	}
	for idx, n := range perWindow {
		if n > 10 {
			t.Fatalf("window %d saw %d requests, max is 10", idx, n)
		}
	}
	if perWindow[0] != 10 || perWindow[1] != 10 || perWindow[2] != 5 {
		t.Fatalf("unexpected distribution: %v", perWindow)
	}
}

func TestWindowLimiter_ResetsAfterWindowElapses(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)}
	l := newTestLimiter(2, time.Minute, clock)

	for i := 0; i < 2; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if l.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", l.Remaining())
	}

	clock.sleep(context.Background(), time.Minute)
	if l.Remaining() != 2 {
		t.Fatalf("expected a fresh window, got %d remaining", l.Remaining())
	}
	before := clock.now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !clock.now().Equal(before) {
		t.Fatal("expected no blocking at the start of a new window")
	}
}

func TestWindowLimiter_ContextCancelledWhileWaiting(t *testing.T) {
	l := NewWindowLimiter(1, time.Hour)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWindowLimiter_ConcurrentCallersShareQuota(t *testing.T) {
	window := 50 * time.Millisecond
	l := NewWindowLimiter(3, window)

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(context.Background()); err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed < 2*window {
		t.Fatalf("9 requests at 3/window finished in %v, expected at least %v", elapsed, 2*window)
	}
	if len(times) != 9 {
		t.Fatalf("expected 9 dispatches, got %d", len(times))
	}
}
