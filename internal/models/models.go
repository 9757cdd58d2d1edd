package models

import (
	"time"

	"github.com/google/uuid"
)

// JSONMap is a simple type for JSON data
type JSONMap map[string]interface{}

// AccountStatus describes the lifecycle state of an account. Accounts are
// owned by the external account store; this service only reads and updates
// the fields relevant to login eligibility.
type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountPending   AccountStatus = "PENDING"
	AccountSuspended AccountStatus = "SUSPENDED"
)

// Account is the externally owned account snapshot consumed by the
// verification and login flows.
type Account struct {
	ID                  uuid.UUID     `db:"id"`
	Email               string        `db:"email"`
	Phone               string        `db:"phone"`
	PasswordHash        string        `db:"password_hash"`
	Status              AccountStatus `db:"status"`
	FailedLoginAttempts int           `db:"failed_login_attempts"`
	LockedUntil         *time.Time    `db:"locked_until"`
	MFAEnabled          bool          `db:"mfa_enabled"`
	MFASecret           string        `db:"mfa_secret"`
	CreatedAt           time.Time     `db:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at"`
}

// IsLocked reports whether a temporary lock is still active at now.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// FraudReason tags one triggered heuristic in a fraud check.
type FraudReason string

const (
	ReasonDisposableEmail FraudReason = "disposable_email"
	ReasonNoMXRecord      FraudReason = "no_mx_record"
	ReasonFakeEmail       FraudReason = "fake_email"
	ReasonInvalidPhone    FraudReason = "invalid_phone_format"
	ReasonInvalidNumber   FraudReason = "invalid_number"
	ReasonVoipNumber      FraudReason = "voip_number"
	ReasonVirtualNumber   FraudReason = "virtual_number"
	ReasonRecycledNumber  FraudReason = "recycled_number"
	ReasonBlacklistedIP   FraudReason = "blacklisted_ip"
	ReasonVpnIP           FraudReason = "vpn_ip"
	ReasonProxyIP         FraudReason = "proxy_ip"
	ReasonTorIP           FraudReason = "tor_ip"
	ReasonHighRiskCountry FraudReason = "high_risk_country"
	ReasonBruteForceIP    FraudReason = "brute_force_ip"
	ReasonRepeatFraudIP   FraudReason = "repeat_fraud_ip"
)

// FraudCheckResult is the immutable outcome of scoring one signal.
// Score is clamped to [0,100] and IsFraud is true iff Score >= 50.
type FraudCheckResult struct {
	Signal   string        `json:"signal"` // email|phone|ip
	Value    string        `json:"value"`
	Score    int           `json:"score"`
	IsFraud  bool          `json:"is_fraud"`
	Reasons  []FraudReason `json:"reasons"`
	Details  JSONMap       `json:"details,omitempty"`
	Degraded bool          `json:"degraded,omitempty"` // a provider lookup failed and contributed nothing
}

// BlockedIPRecord is a time-bounded deny-list entry for one IP.
// Invariant: UnblockAt > BlockedAt. The record is logically deleted the
// first time a read or sweep observes UnblockAt in the past.
type BlockedIPRecord struct {
	IPAddress string    `json:"ip_address"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
	UnblockAt time.Time `json:"unblock_at"`
}

// Active reports whether the block still holds at now. The boundary at
// exactly UnblockAt counts as expired.
func (r *BlockedIPRecord) Active(now time.Time) bool {
	return now.Before(r.UnblockAt)
}

// OTPPurpose scopes a code to the flow that issued it.
type OTPPurpose string

const (
	PurposeEmailVerification OTPPurpose = "EMAIL_VERIFICATION"
	PurposePhoneVerification OTPPurpose = "PHONE_VERIFICATION"
	PurposePasswordReset     OTPPurpose = "PASSWORD_RESET"
	PurposeLoginChallenge    OTPPurpose = "LOGIN_CHALLENGE"
)

// OTPStatus is the state of one code in its lifecycle.
type OTPStatus string

const (
	OTPPending  OTPStatus = "PENDING"
	OTPVerified OTPStatus = "VERIFIED"
	OTPExpired  OTPStatus = "EXPIRED"
	OTPFailed   OTPStatus = "FAILED"
)

// OTPRecord is one issued code. At most one PENDING record exists per
// (purpose, subject); issuing a new code marks the previous one EXPIRED.
// VERIFIED and FAILED are terminal.
type OTPRecord struct {
	ID          string     `json:"id"`
	Purpose     OTPPurpose `json:"purpose"`
	Subject     string     `json:"subject"` // email, phone or user id
	Code        string     `json:"code"`
	Status      OTPStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

// LoginAttempt is one recorded login or verification attempt for a
// (identity, ip) key.
type LoginAttempt struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
}

// VerificationStatus is the aggregate login-eligibility verdict. All checks
// run even after a failure so FailureReasons is always complete; CanLogin is
// the conjunction of the boolean fields.
type VerificationStatus struct {
	EmailVerified    bool     `json:"email_verified"`
	PhoneVerified    bool     `json:"phone_verified"`
	FraudCheckPassed bool     `json:"fraud_check_passed"`
	IPClean          bool     `json:"ip_clean"`
	SessionValid     bool     `json:"session_valid"`
	CanLogin         bool     `json:"can_login"`
	FailureReasons   []string `json:"failure_reasons"`
}

// TokenClaims is the transport-agnostic claim set passed to and returned
// from the token issuer.
type TokenClaims struct {
	ID        string    `json:"jti"`
	Subject   string    `json:"sub"`
	Email     string    `json:"email,omitempty"`
	TokenType string    `json:"token_type"` // access|refresh
	ExpiresAt time.Time `json:"exp"`
}

// FraudEventRecord is a persisted fraud event, queried by (ip, createdAt
// range) when scoring repeated fraudulent registrations from one IP.
type FraudEventRecord struct {
	ID        uuid.UUID `db:"id"`
	EventType string    `db:"event_type"`
	Signal    string    `db:"signal"`
	Value     string    `db:"value"`
	IPAddress string    `db:"ip_address"`
	Score     int       `db:"score"`
	Reasons   []string  `db:"reasons"`
	CreatedAt time.Time `db:"created_at"`
}
