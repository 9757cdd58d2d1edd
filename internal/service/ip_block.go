package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/veriguard/auth-service/internal/config"
	"github.com/veriguard/auth-service/internal/models"
	"github.com/veriguard/auth-service/internal/store"
	"github.com/veriguard/auth-service/internal/util/logger"
)

const ipBlockPrefix = "ipblock:"

// IPBlockRegistry is the time-bounded deny list. Records expire lazily:
// every read path removes a record whose UnblockAt has passed before
// answering, and the store TTL bounds worst-case retention.
type IPBlockRegistry struct {
	store store.Store
	cfg   config.IPBlockConfig
	now   func() time.Time
}

func NewIPBlockRegistry(st store.Store, cfg config.IPBlockConfig) *IPBlockRegistry {
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = time.Hour
	}
	if cfg.EscalationDuration <= 0 {
		cfg.EscalationDuration = 24 * time.Hour
	}
	return &IPBlockRegistry{store: st, cfg: cfg, now: time.Now}
}

// SetClock overrides the time source for tests.
func (r *IPBlockRegistry) SetClock(now func() time.Time) { r.now = now }

// DefaultDuration exposes the configured default block length.
func (r *IPBlockRegistry) DefaultDuration() time.Duration { return r.cfg.DefaultDuration }

// EscalationDuration exposes the block length used for brute-force
// escalation.
func (r *IPBlockRegistry) EscalationDuration() time.Duration { return r.cfg.EscalationDuration }

// Block puts ip on the deny list for duration, replacing any existing
// record entirely. A re-block never extends the old record; it starts a
// fresh one.
func (r *IPBlockRegistry) Block(ctx context.Context, ip, reason string, duration time.Duration) (*models.BlockedIPRecord, error) {
	ip, err := normalizeIP(ip)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		duration = r.cfg.DefaultDuration
	}
	now := r.now().UTC()
	rec := &models.BlockedIPRecord{
		IPAddress: ip,
		Reason:    reason,
		BlockedAt: now,
		UnblockAt: now.Add(duration),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal block record: %w", err)
	}
	// Storage retention outlives the block by a grace period so the
	// lazy-expiry read path, not the store, decides when a record dies.
	if err := r.store.Set(ctx, ipBlockPrefix+ip, raw, duration+time.Hour); err != nil {
		return nil, fmt.Errorf("store block record: %w", err)
	}
	logger.Infof("ipblock: blocked %s for %s (%s)", ip, duration, reason)
	return rec, nil
}

// IsBlocked reports whether an active block exists for ip.
func (r *IPBlockRegistry) IsBlocked(ctx context.Context, ip string) (bool, error) {
	rec, err := r.Get(ctx, ip)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Get returns the active block record for ip, or nil. An expired record
// found on the way is removed first.
func (r *IPBlockRegistry) Get(ctx context.Context, ip string) (*models.BlockedIPRecord, error) {
	ip, err := normalizeIP(ip)
	if err != nil {
		return nil, err
	}
	raw, err := r.store.Get(ctx, ipBlockPrefix+ip)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read block record: %w", err)
	}
	var rec models.BlockedIPRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode block record: %w", err)
	}
	if !rec.Active(r.now()) {
		if _, err := r.store.Delete(ctx, ipBlockPrefix+ip); err != nil {
			logger.Warnf("ipblock: lazy expiry delete failed for %s: %v", ip, err)
		}
		return nil, nil
	}
	return &rec, nil
}

// Unblock removes a block and reports whether one existed. Expired
// records count as absent.
func (r *IPBlockRegistry) Unblock(ctx context.Context, ip string) (bool, error) {
	rec, err := r.Get(ctx, ip)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	if _, err := r.store.Delete(ctx, ipBlockPrefix+rec.IPAddress); err != nil {
		return false, fmt.Errorf("delete block record: %w", err)
	}
	logger.Infof("ipblock: unblocked %s", rec.IPAddress)
	return true, nil
}

// ListActive returns the active blocks, sweeping expired records as a
// side effect. Results are ordered by IP for stable admin listings.
func (r *IPBlockRegistry) ListActive(ctx context.Context) ([]models.BlockedIPRecord, error) {
	keys, err := r.store.Keys(ctx, ipBlockPrefix)
	if err != nil {
		return nil, fmt.Errorf("list block keys: %w", err)
	}
	out := make([]models.BlockedIPRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := r.Get(ctx, strings.TrimPrefix(key, ipBlockPrefix))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IPAddress < out[j].IPAddress })
	return out, nil
}

// SweepExpired removes every expired record and returns how many it
// purged.
func (r *IPBlockRegistry) SweepExpired(ctx context.Context) (int, error) {
	keys, err := r.store.Keys(ctx, ipBlockPrefix)
	if err != nil {
		return 0, fmt.Errorf("list block keys: %w", err)
	}
	purged := 0
	now := r.now()
	for _, key := range keys {
		raw, err := r.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return purged, err
		}
		var rec models.BlockedIPRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			// unreadable record, drop it
			_, _ = r.store.Delete(ctx, key)
			purged++
			continue
		}
		if !rec.Active(now) {
			if _, err := r.store.Delete(ctx, key); err == nil {
				purged++
			}
		}
	}
	if purged > 0 {
		logger.Infof("ipblock: swept %d expired records", purged)
	}
	return purged, nil
}

func normalizeIP(ip string) (string, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", fmt.Errorf("%w: malformed ip", ErrValidation)
	}
	return parsed.String(), nil
}
