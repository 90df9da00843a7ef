package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move the window without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestSlidingWindowAdmitsUpToLimit(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	w := NewSlidingWindow(3, time.Minute)
	w.now = clock.now

	for i := 0; i < 3; i++ {
		assert.True(t, w.Allow(), "call %d", i+1)
		clock.advance(10 * time.Second)
	}
	assert.False(t, w.Allow())
	assert.Equal(t, 3, w.Len())

	// The first admission leaves the window 60s after it was granted.
	clock.advance(30 * time.Second)
	assert.True(t, w.Allow())
	assert.Equal(t, 3, w.Len())
}

func TestSlidingWindowReserveReportsWait(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	w := NewSlidingWindow(1, time.Minute)
	w.now = clock.now

	require.Zero(t, w.reserve())
	clock.advance(15 * time.Second)
	assert.Equal(t, 45*time.Second, w.reserve())
}

func TestWaitHonoursContext(t *testing.T) {
	w := NewSlidingWindow(1, time.Hour)
	require.NoError(t, w.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := w.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitResumesWhenWindowSlides(t *testing.T) {
	w := NewSlidingWindow(1, 30*time.Millisecond)
	require.True(t, w.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, w.Wait(ctx))
}

func TestPerMinute(t *testing.T) {
	assert.Nil(t, PerMinute(0))
	assert.Nil(t, PerMinute(-1))
	assert.NotNil(t, PerMinute(30))
}
