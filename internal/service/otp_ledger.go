package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veriguard/auth-service/internal/config"
	"github.com/veriguard/auth-service/internal/models"
	"github.com/veriguard/auth-service/internal/provider"
	"github.com/veriguard/auth-service/internal/store"
	"github.com/veriguard/auth-service/internal/telemetry"
	"github.com/veriguard/auth-service/internal/util/logger"
)

const (
	otpRecordPrefix   = "otp:id:"
	otpActivePrefix   = "otp:active:"
	otpVerifiedPrefix = "otp:verified:"
	otpCooldownPrefix = "otpcool:"
	otpDailyPrefix    = "otpdaily:"
)

// verifiedMark is the per-(purpose,subject) marker left by a successful
// verification.
type verifiedMark struct {
	OTPID      string    `json:"otp_id"`
	VerifiedAt time.Time `json:"verified_at"`
}

// OtpLedger issues and verifies short-lived numeric codes. Per
// (purpose, subject) at most one PENDING record exists; issuing a new
// code marks the previous one EXPIRED. Verification runs inside an
// atomic read-modify-write so two racing calls cannot both consume the
// last attempt.
type OtpLedger struct {
	store      store.Store
	cfg        config.OTPConfig
	dispatcher provider.NotificationDispatcher
	events     telemetry.Publisher
	now        func() time.Time
}

func NewOtpLedger(st store.Store, cfg config.OTPConfig, dispatcher provider.NotificationDispatcher, events telemetry.Publisher) *OtpLedger {
	if cfg.CodeLength < 4 || cfg.CodeLength > 8 {
		cfg.CodeLength = 6
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if events == nil {
		events = telemetry.NopPublisher{}
	}
	return &OtpLedger{store: st, cfg: cfg, dispatcher: dispatcher, events: events, now: time.Now}
}

// SetClock overrides the time source for tests.
func (l *OtpLedger) SetClock(now func() time.Time) { l.now = now }

// Issue creates a fresh PENDING code for (purpose, subject), superseding
// any existing pending code, and dispatches it out of band. The resend
// cooldown and daily cap are enforced before anything is written.
func (l *OtpLedger) Issue(ctx context.Context, purpose models.OTPPurpose, subject, ip string) (*models.OTPRecord, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrValidation)
	}

	pairKey := string(purpose) + ":" + strings.ToLower(subject)
	now := l.now().UTC()

	if l.cfg.ResendCooldown > 0 {
		ok, err := l.store.SetNX(ctx, otpCooldownPrefix+pairKey, []byte("1"), l.cfg.ResendCooldown)
		if err != nil {
			return nil, fmt.Errorf("cooldown check: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: resend cooldown active", ErrRateLimited)
		}
	}

	if l.cfg.MaxDailyPerSubject > 0 {
		dayKey := otpDailyPrefix + pairKey + ":" + now.Format("2006-01-02")
		n, err := l.store.Increment(ctx, dayKey, 24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("daily cap check: %w", err)
		}
		if n > int64(l.cfg.MaxDailyPerSubject) {
			return nil, fmt.Errorf("%w: daily code limit reached", ErrRateLimited)
		}
	}

	if err := l.supersedePending(ctx, pairKey); err != nil {
		return nil, err
	}

	code, err := generateNumericCode(l.cfg.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	rec := &models.OTPRecord{
		ID:          uuid.NewString(),
		Purpose:     purpose,
		Subject:     subject,
		Code:        code,
		Status:      models.OTPPending,
		Attempts:    0,
		MaxAttempts: l.cfg.MaxAttempts,
		CreatedAt:   now,
		ExpiresAt:   now.Add(l.cfg.Expiration),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal otp record: %w", err)
	}
	if err := l.store.Set(ctx, otpRecordPrefix+rec.ID, raw, l.cfg.Retention); err != nil {
		return nil, fmt.Errorf("store otp record: %w", err)
	}
	if err := l.store.Set(ctx, otpActivePrefix+pairKey, []byte(rec.ID), l.cfg.Retention); err != nil {
		return nil, fmt.Errorf("store active marker: %w", err)
	}

	l.dispatch(rec)
	l.events.Publish(telemetry.OTPAuditEvent{
		Action:  "issued",
		Purpose: string(purpose),
		Subject: subject,
		OTPID:   rec.ID,
		IP:      ip,
	})
	return rec, nil
}

// Verify checks suppliedCode against the record and returns the bound
// subject on success. Outcomes are distinguishable per the failure
// taxonomy: unknown id, expired/exhausted, already used, and plain
// mismatch are all different errors.
func (l *OtpLedger) Verify(ctx context.Context, id, suppliedCode string, purpose models.OTPPurpose) (string, error) {
	if id == "" || suppliedCode == "" {
		return "", fmt.Errorf("%w: missing id or code", ErrValidation)
	}

	now := l.now().UTC()
	var (
		outcome error
		rec     models.OTPRecord
	)

	err := l.store.Update(ctx, otpRecordPrefix+id, func(cur []byte) ([]byte, time.Duration, error) {
		if cur == nil {
			return nil, 0, fmt.Errorf("%w: unknown code id", ErrNotFound)
		}
		if err := json.Unmarshal(cur, &rec); err != nil {
			return nil, 0, fmt.Errorf("decode otp record: %w", err)
		}
		if rec.Purpose != purpose {
			return nil, 0, fmt.Errorf("%w: purpose mismatch", ErrValidation)
		}

		ttl := l.remainingRetention(rec.CreatedAt, now)

		switch rec.Status {
		case models.OTPVerified:
			return nil, 0, ErrAlreadyVerified
		case models.OTPExpired, models.OTPFailed:
			return nil, 0, ErrExpiredOrExhausted
		}

		if now.After(rec.ExpiresAt) {
			rec.Status = models.OTPExpired
			outcome = ErrExpiredOrExhausted
			raw, _ := json.Marshal(&rec)
			return raw, ttl, nil
		}
		if rec.Attempts >= rec.MaxAttempts {
			rec.Status = models.OTPFailed
			outcome = ErrExpiredOrExhausted
			raw, _ := json.Marshal(&rec)
			return raw, ttl, nil
		}

		if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(suppliedCode)) != 1 {
			rec.Attempts++
			if rec.Attempts >= rec.MaxAttempts {
				rec.Status = models.OTPFailed
			}
			outcome = ErrCodeMismatch
			raw, _ := json.Marshal(&rec)
			return raw, ttl, nil
		}

		rec.Status = models.OTPVerified
		verifiedAt := now
		rec.VerifiedAt = &verifiedAt
		outcome = nil
		raw, _ := json.Marshal(&rec)
		return raw, ttl, nil
	})
	if err != nil {
		return "", err
	}

	pairKey := string(rec.Purpose) + ":" + strings.ToLower(rec.Subject)
	switch {
	case outcome == nil:
		mark, _ := json.Marshal(verifiedMark{OTPID: rec.ID, VerifiedAt: now})
		if err := l.store.Set(ctx, otpVerifiedPrefix+pairKey, mark, l.cfg.Retention); err != nil {
			return "", fmt.Errorf("store verified mark: %w", err)
		}
		_, _ = l.store.Delete(ctx, otpActivePrefix+pairKey)
		l.events.Publish(telemetry.OTPAuditEvent{
			Action:  "verified",
			Purpose: string(rec.Purpose),
			Subject: rec.Subject,
			OTPID:   rec.ID,
		})
		return rec.Subject, nil
	case errors.Is(outcome, ErrCodeMismatch):
		l.events.Publish(telemetry.OTPAuditEvent{
			Action:  "mismatch",
			Purpose: string(rec.Purpose),
			Subject: rec.Subject,
			OTPID:   rec.ID,
			Reason:  fmt.Sprintf("attempt %d of %d", rec.Attempts, rec.MaxAttempts),
		})
	default:
		action := "expired"
		if rec.Status == models.OTPFailed {
			action = "exhausted"
		}
		l.events.Publish(telemetry.OTPAuditEvent{
			Action:  action,
			Purpose: string(rec.Purpose),
			Subject: rec.Subject,
			OTPID:   rec.ID,
		})
	}
	return "", outcome
}

// IsVerified reports whether (purpose, subject) has a verification on
// record.
func (l *OtpLedger) IsVerified(ctx context.Context, purpose models.OTPPurpose, subject string) (bool, error) {
	pairKey := string(purpose) + ":" + strings.ToLower(strings.TrimSpace(subject))
	_, err := l.store.Get(ctx, otpVerifiedPrefix+pairKey)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read verified mark: %w", err)
	}
	return true, nil
}

// Get returns a record by id, or ErrNotFound.
func (l *OtpLedger) Get(ctx context.Context, id string) (*models.OTPRecord, error) {
	raw, err := l.store.Get(ctx, otpRecordPrefix+id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown code id", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rec models.OTPRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode otp record: %w", err)
	}
	return &rec, nil
}

// Cleanup purges records past the retention window regardless of
// status and returns how many it removed. Store TTLs make this a
// backstop, not a correctness requirement.
func (l *OtpLedger) Cleanup(ctx context.Context) (int, error) {
	keys, err := l.store.Keys(ctx, otpRecordPrefix)
	if err != nil {
		return 0, fmt.Errorf("list otp keys: %w", err)
	}
	cutoff := l.now().Add(-l.cfg.Retention)
	purged := 0
	for _, key := range keys {
		raw, err := l.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return purged, err
		}
		var rec models.OTPRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.CreatedAt.Before(cutoff) {
			if _, err := l.store.Delete(ctx, key); err == nil {
				purged++
			}
		}
	}
	if purged > 0 {
		logger.Infof("otp: cleanup purged %d records", purged)
	}
	return purged, nil
}

// supersedePending expires the currently pending record for the pair,
// if any. The old code becomes unusable even if its holder still has it.
func (l *OtpLedger) supersedePending(ctx context.Context, pairKey string) error {
	prevID, err := l.store.Get(ctx, otpActivePrefix+pairKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read active marker: %w", err)
	}

	now := l.now().UTC()
	superseded := false
	err = l.store.Update(ctx, otpRecordPrefix+string(prevID), func(cur []byte) ([]byte, time.Duration, error) {
		if cur == nil {
			return nil, 0, nil
		}
		var rec models.OTPRecord
		if err := json.Unmarshal(cur, &rec); err != nil {
			return nil, 0, nil
		}
		if rec.Status != models.OTPPending {
			raw, _ := json.Marshal(&rec)
			return raw, l.remainingRetention(rec.CreatedAt, now), nil
		}
		rec.Status = models.OTPExpired
		superseded = true
		raw, _ := json.Marshal(&rec)
		return raw, l.remainingRetention(rec.CreatedAt, now), nil
	})
	if err != nil {
		return fmt.Errorf("supersede pending: %w", err)
	}
	if superseded {
		l.events.Publish(telemetry.OTPAuditEvent{
			Action: "superseded",
			OTPID:  string(prevID),
		})
	}
	return nil
}

func (l *OtpLedger) remainingRetention(createdAt, now time.Time) time.Duration {
	ttl := createdAt.Add(l.cfg.Retention).Sub(now)
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

// dispatch hands the code to the notification dispatcher off the
// request path. Delivery failure never blocks issuance.
func (l *OtpLedger) dispatch(rec *models.OTPRecord) {
	if l.dispatcher == nil {
		return
	}
	channel := "sms"
	if rec.Purpose == models.PurposeEmailVerification {
		channel = "email"
	}
	go func(channel, destination, code string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.dispatcher.SendCode(ctx, channel, destination, code); err != nil {
			logger.Warnf("otp: code dispatch failed for %s: %v", destination, err)
		}
	}(channel, rec.Subject, rec.Code)
}

func generateNumericCode(length int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < length; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
