package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "k", []byte("abc"), 0))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	got[0] = 'z'

	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))

	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreSetNX(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	ok, err := s.SetNX(ctx, "k", []byte("first"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "k", []byte("second"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)

	// An expired key counts as absent again.
	now = now.Add(2 * time.Minute)
	ok, err = s.SetNX(ctx, "k", []byte("third"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))

	existed, err := s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// Create through Update: cur is nil for an absent key.
	err := s.Update(ctx, "k", func(cur []byte) ([]byte, time.Duration, error) {
		require.Nil(t, cur)
		return []byte("one"), 0, nil
	})
	require.NoError(t, err)

	err = s.Update(ctx, "k", func(cur []byte) ([]byte, time.Duration, error) {
		require.Equal(t, []byte("one"), cur)
		return []byte("two"), 0, nil
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)

	// An error from fn aborts and leaves the key untouched.
	boom := errors.New("boom")
	err = s.Update(ctx, "k", func(cur []byte) ([]byte, time.Duration, error) {
		return nil, 0, boom
	})
	assert.ErrorIs(t, err, boom)
	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)

	// Returning nil deletes.
	err = s.Update(ctx, "k", func(cur []byte) ([]byte, time.Duration, error) {
		return nil, 0, nil
	})
	require.NoError(t, err)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdateConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "n", []byte{0}, 0))

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, "n", func(cur []byte) ([]byte, time.Duration, error) {
				return []byte{cur[0] + 1}, 0, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, byte(writers), got[0])
}

func TestMemoryStoreIncrement(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	n, err := s.Increment(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Increment(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// TTL is anchored at first write; the counter resets once it lapses.
	now = now.Add(2 * time.Minute)
	n, err = s.Increment(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStoreKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "a:1", []byte("x"), 0))
	require.NoError(t, s.Set(ctx, "a:2", []byte("x"), time.Minute))
	require.NoError(t, s.Set(ctx, "b:1", []byte("x"), 0))

	keys, err := s.Keys(ctx, "a:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a:1", "a:2"}, keys)

	now = now.Add(2 * time.Minute)
	keys, err = s.Keys(ctx, "a:")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1"}, keys)
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

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
