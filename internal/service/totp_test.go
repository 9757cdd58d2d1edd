package service

import (
	"encoding/base32"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriguard/auth-service/internal/config"
)

// testTOTPCode derives the valid code for secret at now, independent of
// the verifier under test.
func testTOTPCode(t *testing.T, secretBase32 string, now time.Time) string {
	t.Helper()
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	secret, err := enc.DecodeString(strings.ToUpper(secretBase32))
	require.NoError(t, err)
	code, err := hotpCode(secret, now.Unix()/30, 6)
	require.NoError(t, err)
	return code
}

func TestTOTPVerifyCurrentStep(t *testing.T) {
	v := NewTOTPVerifier(config.MFAConfig{})
	_, secret, err := GenerateSecret()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	code := testTOTPCode(t, secret, now)

	ok, err := v.Verify(secret, code, now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTOTPVerifyWithinSkew(t *testing.T) {
	v := NewTOTPVerifier(config.MFAConfig{Skew: 2})
	_, secret, err := GenerateSecret()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	stale := testTOTPCode(t, secret, now.Add(-60*time.Second))

	ok, err := v.Verify(secret, stale, now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTOTPRejectsOutsideSkew(t *testing.T) {
	v := NewTOTPVerifier(config.MFAConfig{Skew: 2})
	_, secret, err := GenerateSecret()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	tooOld := testTOTPCode(t, secret, now.Add(-120*time.Second))

	ok, err := v.Verify(secret, tooOld, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTOTPRejectsMalformedCode(t *testing.T) {
	v := NewTOTPVerifier(config.MFAConfig{})
	_, secret, err := GenerateSecret()
	require.NoError(t, err)

	for _, code := range []string{"", "12345", "1234567", "12345a"} {
		ok, err := v.Verify(secret, code, time.Now())
		require.NoError(t, err)
		assert.False(t, ok, "code %q", code)
	}
}

func TestTOTPRejectsBadSecret(t *testing.T) {
	v := NewTOTPVerifier(config.MFAConfig{})

	_, err := v.Verify("not base32!!", "123456", time.Now())
	assert.Error(t, err)
}
