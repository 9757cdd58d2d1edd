package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/veriguard/auth-service/internal/models"
	"github.com/veriguard/auth-service/internal/repository"
	"github.com/veriguard/auth-service/internal/store"
	"github.com/veriguard/auth-service/internal/telemetry"
	"github.com/veriguard/auth-service/internal/util/logger"
)

const fingerprintPrefix = "fingerprint:"

// Device trust marks outlive login sessions by a wide margin.
const fingerprintTTL = 90 * 24 * time.Hour

// VerificationAggregator folds the fraud, block, attempt and OTP state
// plus the externally owned account snapshot into one login-eligibility
// verdict. Every check runs even after an earlier one fails, so the
// reason list is always complete.
type VerificationAggregator struct {
	accounts repository.AccountRepository
	fraudLog repository.FraudLogRepository
	blocks   *IPBlockRegistry
	otp      *OtpLedger
	scorer   *FraudScorer
	tracker  *LoginAttemptTracker
	store    store.Store
	events   telemetry.Publisher
	now      func() time.Time
}

func NewVerificationAggregator(
	accounts repository.AccountRepository,
	fraudLog repository.FraudLogRepository,
	blocks *IPBlockRegistry,
	otp *OtpLedger,
	scorer *FraudScorer,
	tracker *LoginAttemptTracker,
	st store.Store,
	events telemetry.Publisher,
) *VerificationAggregator {
	if events == nil {
		events = telemetry.NopPublisher{}
	}
	return &VerificationAggregator{
		accounts: accounts,
		fraudLog: fraudLog,
		blocks:   blocks,
		otp:      otp,
		scorer:   scorer,
		tracker:  tracker,
		store:    st,
		events:   events,
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (v *VerificationAggregator) SetClock(now func() time.Time) { v.now = now }

// CheckLoginEligibility computes the verdict for identity logging in
// from ip. fingerprint is optional; when present, an unseen device is
// remembered and flagged advisory-only on first sight.
func (v *VerificationAggregator) CheckLoginEligibility(ctx context.Context, identity, ip, fingerprint string) (*models.VerificationStatus, error) {
	status := &models.VerificationStatus{FailureReasons: []string{}}

	account, err := v.accounts.FindByIdentity(ctx, identity)
	if errors.Is(err, repository.ErrAccountNotFound) {
		status.FailureReasons = append(status.FailureReasons, "account not found")
		return status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account lookup: %w", err)
	}

	now := v.now()

	blocked, err := v.blocks.IsBlocked(ctx, ip)
	if err != nil {
		return nil, err
	}
	status.IPClean = !blocked
	if blocked {
		status.FailureReasons = append(status.FailureReasons, "ip address blocked")
		v.events.Publish(telemetry.FraudEvent{
			Signal:   "ip",
			Value:    ip,
			IP:       ip,
			Decision: "block",
			Reasons:  []string{"blocked_ip_login"},
		})
	}

	status.EmailVerified, err = v.otp.IsVerified(ctx, models.PurposeEmailVerification, account.Email)
	if err != nil {
		return nil, err
	}
	if !status.EmailVerified {
		status.FailureReasons = append(status.FailureReasons, "email not verified")
	}

	phonePresent := strings.TrimSpace(account.Phone) != ""
	if phonePresent {
		status.PhoneVerified, err = v.otp.IsVerified(ctx, models.PurposePhoneVerification, account.Phone)
		if err != nil {
			return nil, err
		}
		if !status.PhoneVerified {
			status.FailureReasons = append(status.FailureReasons, "phone not verified")
		}
	} else {
		status.PhoneVerified = true
	}

	status.FraudCheckPassed = true
	ipResult, err := v.scorer.ScoreIP(ctx, ip)
	if err != nil {
		return nil, err
	}
	if ipResult.IsFraud {
		status.FraudCheckPassed = false
		status.FailureReasons = append(status.FailureReasons, "ip failed fraud check")
		v.logFraud(ctx, ipResult, ip, "login_fraud")
	}

	brute, err := v.tracker.IsBruteForce(ctx, AttemptKey(identity, ip))
	if err != nil {
		return nil, err
	}
	if brute {
		status.FraudCheckPassed = false
		status.FailureReasons = append(status.FailureReasons, "too many failed attempts")
		if _, err := v.blocks.Block(ctx, ip, "brute force detected", v.blocks.EscalationDuration()); err != nil {
			logger.Errorf("verification: brute-force escalation block failed for %s: %v", ip, err)
		}
		status.IPClean = false
	}

	status.SessionValid = true
	if fingerprint != "" {
		firstSight, err := v.rememberFingerprint(ctx, identity, fingerprint)
		if err != nil {
			return nil, err
		}
		if firstSight {
			status.SessionValid = false
			status.FailureReasons = append(status.FailureReasons, "unrecognized device")
		}
	}

	if account.Status == models.AccountSuspended {
		status.SessionValid = false
		status.FailureReasons = append(status.FailureReasons, "account suspended")
	}
	if account.IsLocked(now) {
		status.SessionValid = false
		status.FailureReasons = append(status.FailureReasons, "account temporarily locked")
	}

	status.CanLogin = status.EmailVerified &&
		status.PhoneVerified &&
		status.FraudCheckPassed &&
		status.IPClean &&
		status.SessionValid
	return status, nil
}

// rememberFingerprint marks the device as seen and reports whether this
// was its first sighting. Any previously seen fingerprint is trusted;
// there is no decay or revocation yet.
func (v *VerificationAggregator) rememberFingerprint(ctx context.Context, identity, fingerprint string) (bool, error) {
	key := fingerprintPrefix + strings.ToLower(identity) + ":" + fingerprint
	firstSight, err := v.store.SetNX(ctx, key, []byte("1"), fingerprintTTL)
	if err != nil {
		return false, fmt.Errorf("fingerprint check: %w", err)
	}
	return firstSight, nil
}

func (v *VerificationAggregator) logFraud(ctx context.Context, res models.FraudCheckResult, ip, eventType string) {
	reasons := make([]string, len(res.Reasons))
	for i, r := range res.Reasons {
		reasons[i] = string(r)
	}
	v.events.Publish(telemetry.FraudEvent{
		Signal:   res.Signal,
		Value:    res.Value,
		Score:    res.Score,
		IsFraud:  res.IsFraud,
		Reasons:  reasons,
		Degraded: res.Degraded,
		IP:       ip,
		Decision: "block",
	})
	if v.fraudLog != nil {
		rec := &models.FraudEventRecord{
			EventType: eventType,
			Signal:    res.Signal,
			Value:     res.Value,
			IPAddress: ip,
			Score:     res.Score,
			Reasons:   reasons,
		}
		if err := v.fraudLog.Insert(ctx, rec); err != nil {
			logger.Errorf("verification: fraud log insert failed: %v", err)
		}
	}
}
