package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriguard/auth-service/internal/config"
)

func newTestTracker(clock *testClock) *LoginAttemptTracker {
	tracker := NewLoginAttemptTracker(newTestStore(clock), config.AttemptConfig{})
	tracker.SetClock(clock.Now)
	return tracker
}

func TestBruteForceAtFiveFailures(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()
	key := AttemptKey("a@b.com", "203.0.113.1")

	for i := 0; i < 4; i++ {
		require.NoError(t, tracker.Record(ctx, key, false, "bad password"))
		clock.Advance(2 * time.Minute)
	}
	brute, err := tracker.IsBruteForce(ctx, key)
	require.NoError(t, err)
	assert.False(t, brute)

	// the fifth failure, still inside the 15 minute window
	require.NoError(t, tracker.Record(ctx, key, false, "bad password"))
	brute, err = tracker.IsBruteForce(ctx, key)
	require.NoError(t, err)
	assert.True(t, brute)
}

func TestBruteForceIgnoresOldFailures(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()
	key := AttemptKey("a@b.com", "203.0.113.1")

	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.Record(ctx, key, false, "bad password"))
	}
	clock.Advance(16 * time.Minute)

	brute, err := tracker.IsBruteForce(ctx, key)
	require.NoError(t, err)
	assert.False(t, brute)
}

func TestBruteForceIgnoresSuccesses(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()
	key := AttemptKey("a@b.com", "203.0.113.1")

	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.Record(ctx, key, true, ""))
	}
	brute, err := tracker.IsBruteForce(ctx, key)
	require.NoError(t, err)
	assert.False(t, brute)
}

func TestBurstRegardlessOfOutcome(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()
	key := AttemptKey("a@b.com", "203.0.113.1")

	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.Record(ctx, key, i%2 == 0, ""))
		clock.Advance(5 * time.Second)
	}
	// five attempts spanning 20 seconds
	burst, err := tracker.IsBurst(ctx, key)
	require.NoError(t, err)
	assert.True(t, burst)
}

func TestNoBurstWhenSpread(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()
	key := AttemptKey("a@b.com", "203.0.113.1")

	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.Record(ctx, key, false, ""))
		clock.Advance(10 * time.Second)
	}
	burst, err := tracker.IsBurst(ctx, key)
	require.NoError(t, err)
	assert.False(t, burst)
}

func TestNoBurstBelowCount(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()
	key := AttemptKey("a@b.com", "203.0.113.1")

	for i := 0; i < 4; i++ {
		require.NoError(t, tracker.Record(ctx, key, false, ""))
	}
	burst, err := tracker.IsBurst(ctx, key)
	require.NoError(t, err)
	assert.False(t, burst)
}

func TestRecordPrunesWindow(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()
	key := AttemptKey("a@b.com", "203.0.113.1")

	require.NoError(t, tracker.Record(ctx, key, false, "old"))
	clock.Advance(25 * time.Hour)
	require.NoError(t, tracker.Record(ctx, key, false, "fresh"))

	n, err := tracker.RecentFailures(ctx, key, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClear(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()
	key := AttemptKey("a@b.com", "203.0.113.1")

	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.Record(ctx, key, false, ""))
	}
	require.NoError(t, tracker.Clear(ctx, key))

	brute, err := tracker.IsBruteForce(ctx, key)
	require.NoError(t, err)
	assert.False(t, brute)
}
