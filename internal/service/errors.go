package service

import "errors"

// Failure taxonomy shared across the fraud and verification services.
// Handlers map these to HTTP statuses; user-visible messages stay
// generic and never expose scoring detail.
var (
	// ErrValidation covers malformed input. Not retryable.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers unknown OTP ids and unknown accounts.
	ErrNotFound = errors.New("not found")

	// ErrForbidden covers blocked IPs, fraud-threshold rejections, and
	// locked or suspended accounts.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited covers brute-force and burst detection, resend
	// cooldowns, and daily issuance caps.
	ErrRateLimited = errors.New("rate limited")

	// ErrExpiredOrExhausted covers OTPs past expiry or out of attempts.
	// Distinct from a plain code mismatch so clients can prompt a re-send.
	ErrExpiredOrExhausted = errors.New("expired or exhausted")

	// ErrTransientProvider covers reputation and MX lookup failures.
	// Recovered locally by degrading the score, never surfaced to users.
	ErrTransientProvider = errors.New("transient provider failure")
)

// Rejections carried on top of the taxonomy.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrAccountSuspended   = errors.New("account suspended")
	ErrMFARequired        = errors.New("mfa code required")
	ErrMFAInvalid         = errors.New("invalid mfa code")
	ErrCodeMismatch       = errors.New("code mismatch")
	ErrAlreadyVerified    = errors.New("code already used")
)
