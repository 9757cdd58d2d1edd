package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriguard/auth-service/internal/config"
	"github.com/veriguard/auth-service/internal/models"
	"github.com/veriguard/auth-service/internal/provider"
)

func TestScoreEmailDisposableWithSpamPattern(t *testing.T) {
	clock := newTestClock()
	scorer := newTestScorer(clock, nil)

	res, err := scorer.ScoreEmail(context.Background(), "test123456789@mailinator.com")
	require.NoError(t, err)

	assert.Equal(t, 70, res.Score)
	assert.True(t, res.IsFraud)
	assert.Contains(t, res.Reasons, models.ReasonDisposableEmail)
	assert.Contains(t, res.Reasons, models.ReasonFakeEmail)
	assert.NotContains(t, res.Reasons, models.ReasonNoMXRecord)
}

func TestScoreEmailNoMX(t *testing.T) {
	clock := newTestClock()
	scorer := newTestScorer(clock, nil)

	res, err := scorer.ScoreEmail(context.Background(), "alice@nomx.example")
	require.NoError(t, err)

	assert.Equal(t, 50, res.Score)
	assert.True(t, res.IsFraud)
	assert.Equal(t, []models.FraudReason{models.ReasonNoMXRecord}, res.Reasons)
}

func TestScoreEmailClean(t *testing.T) {
	clock := newTestClock()
	scorer := newTestScorer(clock, nil)

	res, err := scorer.ScoreEmail(context.Background(), "alice.smith@example.com")
	require.NoError(t, err)

	assert.Equal(t, 0, res.Score)
	assert.False(t, res.IsFraud)
	assert.Empty(t, res.Reasons)
}

func TestScoreEmailMalformed(t *testing.T) {
	clock := newTestClock()
	scorer := newTestScorer(clock, nil)

	_, err := scorer.ScoreEmail(context.Background(), "not-an-email")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestScorePhoneVoip(t *testing.T) {
	clock := newTestClock()
	scorer := newTestScorer(clock, nil)

	res, err := scorer.ScorePhone(context.Background(), "+18605551234")
	require.NoError(t, err)

	assert.Equal(t, 60, res.Score)
	assert.True(t, res.IsFraud)
	assert.Contains(t, res.Reasons, models.ReasonVoipNumber)
}

func TestScorePhoneBadFormat(t *testing.T) {
	clock := newTestClock()
	scorer := newTestScorer(clock, nil)

	res, err := scorer.ScorePhone(context.Background(), "12345")
	require.NoError(t, err)

	assert.Contains(t, res.Reasons, models.ReasonInvalidPhone)
	assert.GreaterOrEqual(t, res.Score, 40)
}

func TestScorePhoneDegradedProvider(t *testing.T) {
	scorer := NewFraudScorer(
		config.FraudConfig{Threshold: 50, ProviderTimeout: 50 * time.Millisecond},
		&provider.StubMXResolver{},
		failingCarrier{},
		provider.StubIPReputationLookup{},
		nil, nil,
	)

	res, err := scorer.ScorePhone(context.Background(), "+14155551234")
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, 0, res.Score)
	assert.False(t, res.IsFraud)
}

func TestScoreIPClean(t *testing.T) {
	clock := newTestClock()
	scorer := newTestScorer(clock, nil)

	res, err := scorer.ScoreIP(context.Background(), "203.0.113.7")
	require.NoError(t, err)

	assert.Equal(t, 0, res.Score)
	assert.False(t, res.IsFraud)
	assert.Empty(t, res.Reasons)
}

func TestScoreIPBlacklistedClamps(t *testing.T) {
	clock := newTestClock()
	scorer := newTestScorer(clock, nil)

	res, err := scorer.ScoreIP(context.Background(), "192.0.2.99")
	require.NoError(t, err)

	assert.Equal(t, 100, res.Score)
	assert.True(t, res.IsFraud)
	assert.Contains(t, res.Reasons, models.ReasonBlacklistedIP)
}

func TestScoreIPTor(t *testing.T) {
	clock := newTestClock()
	scorer := newTestScorer(clock, nil)

	res, err := scorer.ScoreIP(context.Background(), "10.88.0.5")
	require.NoError(t, err)

	assert.Equal(t, 80, res.Score)
	assert.True(t, res.IsFraud)
	assert.Contains(t, res.Reasons, models.ReasonTorIP)
}

func TestScoreIPBruteForceSignal(t *testing.T) {
	clock := newTestClock()
	st := newTestStore(clock)
	tracker := NewLoginAttemptTracker(st, config.AttemptConfig{})
	tracker.SetClock(clock.Now)
	scorer := newTestScorer(clock, tracker)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.Record(ctx, "198.51.100.9", false, "bad password"))
	}

	res, err := scorer.ScoreIP(ctx, "198.51.100.9")
	require.NoError(t, err)

	assert.Equal(t, 60, res.Score)
	assert.True(t, res.IsFraud)
	assert.Contains(t, res.Reasons, models.ReasonBruteForceIP)
}
