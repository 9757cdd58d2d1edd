package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriguard/auth-service/internal/config"
)

func newTestRegistry(clock *testClock) *IPBlockRegistry {
	reg := NewIPBlockRegistry(newTestStore(clock), config.IPBlockConfig{})
	reg.SetClock(clock.Now)
	return reg
}

func TestBlockActiveUntilBoundary(t *testing.T) {
	clock := newTestClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	rec, err := reg.Block(ctx, "203.0.113.1", "abuse", time.Hour)
	require.NoError(t, err)
	assert.True(t, rec.UnblockAt.After(rec.BlockedAt))

	clock.Advance(time.Hour - time.Second)
	blocked, err := reg.IsBlocked(ctx, "203.0.113.1")
	require.NoError(t, err)
	assert.True(t, blocked)

	// the boundary itself counts as expired
	clock.Advance(time.Second)
	blocked, err = reg.IsBlocked(ctx, "203.0.113.1")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestReblockReplacesRecord(t *testing.T) {
	clock := newTestClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	first, err := reg.Block(ctx, "203.0.113.2", "abuse", time.Hour)
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	second, err := reg.Block(ctx, "203.0.113.2", "escalated", 10*time.Minute)
	require.NoError(t, err)

	got, err := reg.Get(ctx, "203.0.113.2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "escalated", got.Reason)
	assert.Equal(t, second.UnblockAt, got.UnblockAt)
	assert.True(t, got.UnblockAt.Before(first.UnblockAt))
}

func TestUnblock(t *testing.T) {
	clock := newTestClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	_, err := reg.Block(ctx, "203.0.113.3", "abuse", time.Hour)
	require.NoError(t, err)

	existed, err := reg.Unblock(ctx, "203.0.113.3")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = reg.Unblock(ctx, "203.0.113.3")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestUnblockExpiredCountsAsAbsent(t *testing.T) {
	clock := newTestClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	_, err := reg.Block(ctx, "203.0.113.4", "abuse", time.Minute)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	existed, err := reg.Unblock(ctx, "203.0.113.4")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestListActiveSweeps(t *testing.T) {
	clock := newTestClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	_, err := reg.Block(ctx, "203.0.113.5", "short", time.Minute)
	require.NoError(t, err)
	_, err = reg.Block(ctx, "203.0.113.6", "long", time.Hour)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	active, err := reg.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "203.0.113.6", active[0].IPAddress)
}

func TestSweepExpired(t *testing.T) {
	clock := newTestClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	_, err := reg.Block(ctx, "203.0.113.7", "short", time.Minute)
	require.NoError(t, err)
	_, err = reg.Block(ctx, "203.0.113.8", "long", time.Hour)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	purged, err := reg.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}

func TestBlockMalformedIP(t *testing.T) {
	clock := newTestClock()
	reg := newTestRegistry(clock)

	_, err := reg.Block(context.Background(), "not-an-ip", "abuse", time.Hour)
	assert.ErrorIs(t, err, ErrValidation)
}
