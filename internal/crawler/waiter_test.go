package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAwaitMarkerFoundAfterScrolling(t *testing.T) {
	s := &fakeSession{markerAfter: 3}

	found := AwaitMarker(context.Background(), s, MarkerSelector, WaitOptions{Timeout: time.Second, PollInterval: 5 * time.Millisecond})

	assert.True(t, found)
	assert.Equal(t, int32(4), s.checks.Load())
	assert.Equal(t, int32(3), s.scrolls.Load())
}

func TestAwaitMarkerImmediate(t *testing.T) {
	s := &fakeSession{}

	assert.True(t, AwaitMarker(context.Background(), s, MarkerSelector, WaitOptions{}))
	assert.Equal(t, int32(0), s.scrolls.Load())
}

func TestAwaitMarkerTimesOut(t *testing.T) {
	s := &fakeSession{markerAfter: -1}

	start := time.Now()
	found := AwaitMarker(context.Background(), s, MarkerSelector, WaitOptions{Timeout: 60 * time.Millisecond, PollInterval: 10 * time.Millisecond})
	elapsed := time.Since(start)

	assert.False(t, found)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	// Sleeps between polls, so only a handful of checks fit in the window.
	assert.LessOrEqual(t, s.checks.Load(), int32(10))
}

func TestAwaitMarkerCheckErrorsCountAsNotYet(t *testing.T) {
	s := &fakeSession{checkErrs: 2}

	found := AwaitMarker(context.Background(), s, MarkerSelector, WaitOptions{Timeout: time.Second, PollInterval: 5 * time.Millisecond})

	assert.True(t, found)
	assert.Equal(t, int32(3), s.checks.Load())
}

func TestAwaitMarkerStopsOnCancel(t *testing.T) {
	s := &fakeSession{markerAfter: -1}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	found := AwaitMarker(ctx, s, MarkerSelector, WaitOptions{Timeout: 5 * time.Second, PollInterval: 5 * time.Millisecond})

	assert.False(t, found)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleepCtx(t *testing.T) {
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))
	assert.NoError(t, sleepCtx(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
