package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veriguard/auth-service/internal/client"
)

// maxTxRetries bounds the optimistic-lock retry loop in Update.
const maxTxRetries = 16

// RedisStore backs the Store contract with a shared Redis instance so
// that IP blocks, OTP state and attempt windows are visible across all
// service instances.
type RedisStore struct {
	rdb *client.RedisClient
}

func NewRedisStore(rdb *client.RedisClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.InstrumentedDo(ctx, func(ctx context.Context) error {
		return s.rdb.Client.Set(ctx, key, value, ttl).Err()
	})
}

func (s *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.rdb.Client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Client.Del(ctx, key).Result()
	return n > 0, err
}

// Update runs fn under WATCH so concurrent writers of the same key
// serialize; losers of the race retry against the fresh value.
func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	txn := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			cur = nil
		} else if err != nil {
			return err
		}
		next, ttl, err := fn(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errors.New("store: update contention exceeded retry budget")
}

func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return s.rdb.IncrementWithTTL(ctx, key, ttl)
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.Client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// go-redis surfaces the sentinel replies as -2 (missing) and -1 (no
	// expiry) nanoseconds.
	if d == time.Duration(-2) {
		return 0, ErrNotFound
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}
