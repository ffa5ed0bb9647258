package sourceclient

import (
	"context"
	"sync"
	"time"
)

// WindowLimiter is a fixed-window request counter. At most maxRequests calls to
// Wait return within one window; further callers block until the window rolls over.
type WindowLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	count       int
	windowStart time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewWindowLimiter(maxRequests int, window time.Duration) *WindowLimiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &WindowLimiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Wait reserves one slot in the current window, blocking until one is free.
// It only fails when ctx is done while waiting.
func (l *WindowLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		if l.windowStart.IsZero() || !now.Before(l.windowStart.Add(l.window)) {
			l.windowStart = now
			l.count = 0
		}
		if l.count < l.maxRequests {
			l.count++
			l.mu.Unlock()
			return nil
		}
		wait := l.windowStart.Add(l.window).Sub(now)
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Remaining reports the unused slots in the current window.
func (l *WindowLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.windowStart.IsZero() || !l.now().Before(l.windowStart.Add(l.window)) {
		return l.maxRequests
	}
	return l.maxRequests - l.count
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
