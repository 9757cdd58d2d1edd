package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriguard/auth-service/internal/client"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := client.NewRedisClient(context.Background(), client.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestRedisStoreSetGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreSetNX(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)

	ok, err := s.SetNX(ctx, "k", []byte("first"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "k", []byte("second"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

func TestRedisStoreDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))

	existed, err := s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestRedisStoreUpdate(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)

	err := s.Update(ctx, "k", func(cur []byte) ([]byte, time.Duration, error) {
		require.Nil(t, cur)
		return []byte("one"), time.Minute, nil
	})
	require.NoError(t, err)

	err = s.Update(ctx, "k", func(cur []byte) ([]byte, time.Duration, error) {
		require.Equal(t, []byte("one"), cur)
		return []byte("two"), time.Minute, nil
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)

	boom := errors.New("boom")
	err = s.Update(ctx, "k", func(cur []byte) ([]byte, time.Duration, error) {
		return nil, 0, boom
	})
	assert.ErrorIs(t, err, boom)
	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)

	err = s.Update(ctx, "k", func(cur []byte) ([]byte, time.Duration, error) {
		return nil, 0, nil
	})
	require.NoError(t, err)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreIncrement(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	n, err := s.Increment(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Increment(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	mr.FastForward(2 * time.Minute)
	n, err = s.Increment(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisStoreKeys(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)

	require.NoError(t, s.Set(ctx, "a:1", []byte("x"), 0))
	require.NoError(t, s.Set(ctx, "a:2", []byte("x"), 0))
	require.NoError(t, s.Set(ctx, "b:1", []byte("x"), 0))

	keys, err := s.Keys(ctx, "a:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a:1", "a:2"}, keys)
}

func TestRedisStoreTTL(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)

	require.NoError(t, s.Set(ctx, "forever", []byte("x"), 0))
	require.NoError(t, s.Set(ctx, "k", []byte("x"), time.Minute))

	d, err := s.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)

	d, err = s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = s.TTL(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
