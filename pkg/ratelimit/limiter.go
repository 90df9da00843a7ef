package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates calls to a remote source.
type Limiter interface {
	// Wait blocks until a call may proceed or ctx ends.
	Wait(ctx context.Context) error
}

// PerMinute returns a window allowing n calls per minute, or nil when
// n <= 0.
func PerMinute(n int) Limiter {
	if n <= 0 {
		return nil
	}
	return NewSlidingWindow(n, time.Minute)
}

// SlidingWindow admits at most limit calls in any span of width. It is safe
// for concurrent use by all workers of a campaign.
type SlidingWindow struct {
	mu    sync.Mutex
	limit int
	width time.Duration
	// granted holds the admission times still inside the window, oldest first.
	granted []time.Time
	now     func() time.Time
}

// NewSlidingWindow admits limit calls per width.
func NewSlidingWindow(limit int, width time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:   limit,
		width:   width,
		granted: make([]time.Time, 0, limit),
		now:     time.Now,
	}
}

// Allow admits a call if the window has room.
func (w *SlidingWindow) Allow() bool {
	return w.reserve() == 0
}

// Wait blocks until the window admits a call.
func (w *SlidingWindow) Wait(ctx context.Context) error {
	for {
		wait := w.reserve()
		if wait == 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Len reports how many admissions are still inside the window.
func (w *SlidingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expire(w.now())
	return len(w.granted)
}

// reserve records an admission and returns 0, or returns how long until the
// oldest admission leaves the window.
func (w *SlidingWindow) reserve() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.expire(now)
	if len(w.granted) < w.limit {
		w.granted = append(w.granted, now)
		return 0
	}
	if wait := w.granted[0].Add(w.width).Sub(now); wait > 0 {
		return wait
	}
	return time.Millisecond
}

func (w *SlidingWindow) expire(now time.Time) {
	cutoff := now.Add(-w.width)
	n := 0
	for n < len(w.granted) && !w.granted[n].After(cutoff) {
		n++
	}
	w.granted = append(w.granted[:0], w.granted[n:]...)
}
