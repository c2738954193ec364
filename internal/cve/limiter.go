package cve

import (
	"context"
	"sync"
	"time"
)

const (
	// limiterWindow is the NVD sliding rate window.
	limiterWindow = 30 * time.Second

	// limiterMargin is added to waits so a call never lands exactly on the
	// window edge.
	limiterMargin = 100 * time.Millisecond

	// CapacityWithKey is the per-window call budget with an NVD API key.
	CapacityWithKey = 50

	// CapacityWithoutKey is the per-window call budget without a key.
	CapacityWithoutKey = 5
)

// SlidingLimiter enforces a sliding-window rate limit over a mutex-guarded
// timestamp ring. Callers block in Wait until a slot opens; waiting tasks
// drain in FIFO order of lock acquisition.
type SlidingLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	stamps   []time.Time
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewSlidingLimiter creates a limiter with the given per-window capacity.
func NewSlidingLimiter(capacity int) *SlidingLimiter {
	return &SlidingLimiter{
		window:   limiterWindow,
		capacity: capacity,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Wait blocks until the caller may proceed, then records the call timestamp.
// Returns early only when the context is cancelled.
func (l *SlidingLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if len(l.stamps) < l.capacity {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}

		// Full window: wait until the oldest stamp ages out.
		wait := l.stamps[0].Add(l.window).Sub(now) + limiterMargin
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// prune discards timestamps that fell out of the window. Callers hold mu.
func (l *SlidingLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.stamps) && !l.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[idx:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
