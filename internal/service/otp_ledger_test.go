package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriguard/auth-service/internal/config"
	"github.com/veriguard/auth-service/internal/models"
)

func newTestLedger(clock *testClock, cfg config.OTPConfig) *OtpLedger {
	ledger := NewOtpLedger(newTestStore(clock), cfg, nil, nil)
	ledger.SetClock(clock.Now)
	return ledger
}

func TestIssueAndVerify(t *testing.T) {
	clock := newTestClock()
	ledger := newTestLedger(clock, config.OTPConfig{})
	ctx := context.Background()

	rec, err := ledger.Issue(ctx, models.PurposeEmailVerification, "a@b.com", "203.0.113.1")
	require.NoError(t, err)
	assert.Equal(t, models.OTPPending, rec.Status)
	assert.Len(t, rec.Code, 6)
	assert.Equal(t, 3, rec.MaxAttempts)

	subject, err := ledger.Verify(ctx, rec.ID, rec.Code, models.PurposeEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", subject)

	verified, err := ledger.IsVerified(ctx, models.PurposeEmailVerification, "a@b.com")
	require.NoError(t, err)
	assert.True(t, verified)
}

func TestVerifyExpired(t *testing.T) {
	clock := newTestClock()
	ledger := newTestLedger(clock, config.OTPConfig{})
	ctx := context.Background()

	rec, err := ledger.Issue(ctx, models.PurposeEmailVerification, "a@b.com", "")
	require.NoError(t, err)

	clock.Advance(61 * time.Second)

	_, err = ledger.Verify(ctx, rec.ID, rec.Code, models.PurposeEmailVerification)
	assert.ErrorIs(t, err, ErrExpiredOrExhausted)
}

func TestVerifyUnknownIDIsNotFound(t *testing.T) {
	clock := newTestClock()
	ledger := newTestLedger(clock, config.OTPConfig{})

	_, err := ledger.Verify(context.Background(), "no-such-id", "123456", models.PurposeEmailVerification)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyAlreadyUsed(t *testing.T) {
	clock := newTestClock()
	ledger := newTestLedger(clock, config.OTPConfig{})
	ctx := context.Background()

	rec, err := ledger.Issue(ctx, models.PurposePhoneVerification, "+14155551234", "")
	require.NoError(t, err)

	_, err = ledger.Verify(ctx, rec.ID, rec.Code, models.PurposePhoneVerification)
	require.NoError(t, err)

	_, err = ledger.Verify(ctx, rec.ID, rec.Code, models.PurposePhoneVerification)
	assert.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestVerifyAttemptExhaustion(t *testing.T) {
	clock := newTestClock()
	ledger := newTestLedger(clock, config.OTPConfig{})
	ctx := context.Background()

	rec, err := ledger.Issue(ctx, models.PurposeEmailVerification, "a@b.com", "")
	require.NoError(t, err)

	wrong := "000000"
	if rec.Code == wrong {
		wrong = "000001"
	}

	// three wrong attempts consume the record
	for i := 0; i < 3; i++ {
		_, err = ledger.Verify(ctx, rec.ID, wrong, models.PurposeEmailVerification)
		assert.ErrorIs(t, err, ErrCodeMismatch)
	}
	got, err := ledger.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OTPFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)

	// the fourth rejects without incrementing further
	_, err = ledger.Verify(ctx, rec.ID, wrong, models.PurposeEmailVerification)
	assert.ErrorIs(t, err, ErrExpiredOrExhausted)
	got, err = ledger.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)

	// even the right code is useless now
	_, err = ledger.Verify(ctx, rec.ID, rec.Code, models.PurposeEmailVerification)
	assert.ErrorIs(t, err, ErrExpiredOrExhausted)
}

func TestIssueSupersedesPending(t *testing.T) {
	clock := newTestClock()
	ledger := newTestLedger(clock, config.OTPConfig{})
	ctx := context.Background()

	first, err := ledger.Issue(ctx, models.PurposeEmailVerification, "a@b.com", "")
	require.NoError(t, err)

	second, err := ledger.Issue(ctx, models.PurposeEmailVerification, "a@b.com", "")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	// the superseded code fails as expired, not as a mismatch
	_, err = ledger.Verify(ctx, first.ID, first.Code, models.PurposeEmailVerification)
	assert.ErrorIs(t, err, ErrExpiredOrExhausted)

	_, err = ledger.Verify(ctx, second.ID, second.Code, models.PurposeEmailVerification)
	assert.NoError(t, err)
}

func TestIssueResendCooldown(t *testing.T) {
	clock := newTestClock()
	ledger := newTestLedger(clock, config.OTPConfig{ResendCooldown: 30 * time.Second})
	ctx := context.Background()

	_, err := ledger.Issue(ctx, models.PurposeEmailVerification, "a@b.com", "")
	require.NoError(t, err)

	_, err = ledger.Issue(ctx, models.PurposeEmailVerification, "a@b.com", "")
	assert.ErrorIs(t, err, ErrRateLimited)

	clock.Advance(31 * time.Second)
	_, err = ledger.Issue(ctx, models.PurposeEmailVerification, "a@b.com", "")
	assert.NoError(t, err)
}

func TestIssueDailyCap(t *testing.T) {
	clock := newTestClock()
	ledger := newTestLedger(clock, config.OTPConfig{MaxDailyPerSubject: 2})
	ctx := context.Background()

	_, err := ledger.Issue(ctx, models.PurposeEmailVerification, "a@b.com", "")
	require.NoError(t, err)
	_, err = ledger.Issue(ctx, models.PurposeEmailVerification, "a@b.com", "")
	require.NoError(t, err)

	_, err = ledger.Issue(ctx, models.PurposeEmailVerification, "a@b.com", "")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestVerifyPurposeMismatch(t *testing.T) {
	clock := newTestClock()
	ledger := newTestLedger(clock, config.OTPConfig{})
	ctx := context.Background()

	rec, err := ledger.Issue(ctx, models.PurposeEmailVerification, "a@b.com", "")
	require.NoError(t, err)

	_, err = ledger.Verify(ctx, rec.ID, rec.Code, models.PurposePasswordReset)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCleanupPurgesOldRecords(t *testing.T) {
	clock := newTestClock()
	st := newTestStore(clock)
	ledger := NewOtpLedger(st, config.OTPConfig{Retention: 48 * time.Hour}, nil, nil)
	ledger.SetClock(clock.Now)
	ctx := context.Background()

	_, err := ledger.Issue(ctx, models.PurposeEmailVerification, "a@b.com", "")
	require.NoError(t, err)

	clock.Advance(47 * time.Hour)
	purged, err := ledger.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)

	// shrink retention so the record falls outside the window
	ledger.cfg.Retention = 24 * time.Hour
	purged, err = ledger.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}
