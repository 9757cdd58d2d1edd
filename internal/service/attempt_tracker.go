package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/veriguard/auth-service/internal/config"
	"github.com/veriguard/auth-service/internal/models"
	"github.com/veriguard/auth-service/internal/store"
)

const attemptPrefix = "attempts:"

// AttemptKey builds the tracker key for an (identity, ip) pair. IP-only
// tracking uses the bare IP as the key.
func AttemptKey(identity, ip string) string {
	return strings.ToLower(strings.TrimSpace(identity)) + "|" + strings.TrimSpace(ip)
}

// LoginAttemptTracker keeps a sliding window of login and verification
// attempts per key and evaluates the brute-force and burst rules over
// it. Every write prunes entries older than the retention window.
type LoginAttemptTracker struct {
	store store.Store
	cfg   config.AttemptConfig
	now   func() time.Time
}

func NewLoginAttemptTracker(st store.Store, cfg config.AttemptConfig) *LoginAttemptTracker {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.BruteForceCount <= 0 {
		cfg.BruteForceCount = 5
	}
	if cfg.BruteForceWindow <= 0 {
		cfg.BruteForceWindow = 15 * time.Minute
	}
	if cfg.BurstCount <= 0 {
		cfg.BurstCount = 5
	}
	if cfg.BurstSpan <= 0 {
		cfg.BurstSpan = 30 * time.Second
	}
	return &LoginAttemptTracker{store: st, cfg: cfg, now: time.Now}
}

// SetClock overrides the time source for tests.
func (t *LoginAttemptTracker) SetClock(now func() time.Time) { t.now = now }

// Record appends one attempt for key and prunes the window.
func (t *LoginAttemptTracker) Record(ctx context.Context, key string, success bool, reason string) error {
	if key == "" {
		return fmt.Errorf("%w: empty attempt key", ErrValidation)
	}
	now := t.now().UTC()
	entry := models.LoginAttempt{Timestamp: now, Success: success, Reason: reason}

	err := t.store.Update(ctx, attemptPrefix+key, func(cur []byte) ([]byte, time.Duration, error) {
		var attempts []models.LoginAttempt
		if cur != nil {
			if err := json.Unmarshal(cur, &attempts); err != nil {
				attempts = nil
			}
		}
		attempts = append(attempts, entry)
		attempts = pruneBefore(attempts, now.Add(-t.cfg.Window))
		raw, err := json.Marshal(attempts)
		if err != nil {
			return nil, 0, err
		}
		return raw, t.cfg.Window, nil
	})
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// RecentFailures counts failed attempts for key within the window.
func (t *LoginAttemptTracker) RecentFailures(ctx context.Context, key string, window time.Duration) (int, error) {
	attempts, err := t.load(ctx, key)
	if err != nil {
		return 0, err
	}
	cutoff := t.now().Add(-window)
	n := 0
	for _, a := range attempts {
		if !a.Success && !a.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

// IsBruteForce reports whether key has accumulated enough recent
// failures to count as a brute-force attack.
func (t *LoginAttemptTracker) IsBruteForce(ctx context.Context, key string) (bool, error) {
	n, err := t.RecentFailures(ctx, key, t.cfg.BruteForceWindow)
	if err != nil {
		return false, err
	}
	return n >= t.cfg.BruteForceCount, nil
}

// IsBurst reports whether the last BurstCount attempts for key, success
// or not, landed inside BurstSpan end to end.
func (t *LoginAttemptTracker) IsBurst(ctx context.Context, key string) (bool, error) {
	attempts, err := t.load(ctx, key)
	if err != nil {
		return false, err
	}
	if len(attempts) < t.cfg.BurstCount {
		return false, nil
	}
	last := attempts[len(attempts)-t.cfg.BurstCount:]
	span := last[len(last)-1].Timestamp.Sub(last[0].Timestamp)
	return span < t.cfg.BurstSpan, nil
}

// Clear drops all recorded attempts for key.
func (t *LoginAttemptTracker) Clear(ctx context.Context, key string) error {
	if _, err := t.store.Delete(ctx, attemptPrefix+key); err != nil {
		return fmt.Errorf("clear attempts: %w", err)
	}
	return nil
}

func (t *LoginAttemptTracker) load(ctx context.Context, key string) ([]models.LoginAttempt, error) {
	raw, err := t.store.Get(ctx, attemptPrefix+key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read attempts: %w", err)
	}
	var attempts []models.LoginAttempt
	if err := json.Unmarshal(raw, &attempts); err != nil {
		return nil, fmt.Errorf("decode attempts: %w", err)
	}
	return attempts, nil
}

func pruneBefore(attempts []models.LoginAttempt, cutoff time.Time) []models.LoginAttempt {
	out := attempts[:0]
	for _, a := range attempts {
		if !a.Timestamp.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out
}
