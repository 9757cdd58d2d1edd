package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/veriguard/auth-service/internal/config"
	"github.com/veriguard/auth-service/internal/models"
	"github.com/veriguard/auth-service/internal/repository"
	"github.com/veriguard/auth-service/internal/store"
	"github.com/veriguard/auth-service/internal/telemetry"
	"github.com/veriguard/auth-service/internal/util"
	"github.com/veriguard/auth-service/internal/util/logger"
)

const revokedTokenPrefix = "revoked:"

const minPasswordLength = 8

// TokenIssuer signs and verifies the tokens handed to clients. The JWT
// implementation lives in util; tests inject fakes.
type TokenIssuer interface {
	Sign(ctx context.Context, claims models.TokenClaims, ttl time.Duration) (string, error)
	Verify(ctx context.Context, token string) (models.TokenClaims, error)
	AccessTokenTTL() time.Duration
	RefreshTokenTTL() time.Duration
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"` // access token lifetime, seconds
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Email    string
	Phone    string
	Password string
	IP       string
}

// LoginInput carries a login request.
type LoginInput struct {
	Identity    string // email or phone
	Password    string
	MFACode     string
	IP          string
	Fingerprint string
}

// AuthOrchestrator drives the register, login, refresh and logout
// flows: fraud pre-screening with escalating rejection, the
// failed-login lockout policy, the MFA step, and token issuance.
type AuthOrchestrator struct {
	accounts   repository.AccountRepository
	fraudLog   repository.FraudLogRepository
	aggregator *VerificationAggregator
	scorer     *FraudScorer
	blocks     *IPBlockRegistry
	tracker    *LoginAttemptTracker
	otp        *OtpLedger
	totp       *TOTPVerifier
	tokens     TokenIssuer
	store      store.Store
	events     telemetry.Publisher

	lockout config.LockoutConfig
	fraud   config.FraudConfig

	now func() time.Time
}

func NewAuthOrchestrator(
	accounts repository.AccountRepository,
	fraudLog repository.FraudLogRepository,
	aggregator *VerificationAggregator,
	scorer *FraudScorer,
	blocks *IPBlockRegistry,
	tracker *LoginAttemptTracker,
	otp *OtpLedger,
	totp *TOTPVerifier,
	tokens TokenIssuer,
	st store.Store,
	events telemetry.Publisher,
	lockout config.LockoutConfig,
	fraud config.FraudConfig,
) *AuthOrchestrator {
	if lockout.MaxFailedLogins <= 0 {
		lockout.MaxFailedLogins = 5
	}
	if lockout.LockDuration <= 0 {
		lockout.LockDuration = 15 * time.Minute
	}
	if fraud.AutoBlockScore <= 0 {
		fraud.AutoBlockScore = 80
	}
	if fraud.AutoBlockDuration <= 0 {
		fraud.AutoBlockDuration = 24 * time.Hour
	}
	if events == nil {
		events = telemetry.NopPublisher{}
	}
	return &AuthOrchestrator{
		accounts:   accounts,
		fraudLog:   fraudLog,
		aggregator: aggregator,
		scorer:     scorer,
		blocks:     blocks,
		tracker:    tracker,
		otp:        otp,
		totp:       totp,
		tokens:     tokens,
		store:      st,
		events:     events,
		lockout:    lockout,
		fraud:      fraud,
		now:        time.Now,
	}
}

// SetClock overrides the time source for tests.
func (o *AuthOrchestrator) SetClock(now func() time.Time) { o.now = now }

// Register pre-screens the caller's IP (and optionally the email and
// phone) before creating a PENDING account. Rejections escalate with
// the score: a fraudulent signal is refused, and a score at or above
// the auto-block threshold also puts the IP on the deny list.
func (o *AuthOrchestrator) Register(ctx context.Context, in RegisterInput) (*models.Account, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: email required", ErrValidation)
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password too short", ErrValidation)
	}

	blocked, err := o.blocks.IsBlocked(ctx, in.IP)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, fmt.Errorf("%w: ip blocked", ErrForbidden)
	}

	ipResult, err := o.scorer.ScoreIP(ctx, in.IP)
	if err != nil {
		return nil, err
	}
	if ipResult.IsFraud {
		o.recordRegistrationBlock(ctx, ipResult, in.IP)
		if ipResult.Score >= o.fraud.AutoBlockScore {
			if _, err := o.blocks.Block(ctx, in.IP, "registration fraud score", o.fraud.AutoBlockDuration); err != nil {
				logger.Errorf("auth: auto-block failed for %s: %v", in.IP, err)
			}
		}
		return nil, fmt.Errorf("%w: registration refused", ErrForbidden)
	}

	if o.fraud.ScreenEmailOnSignup {
		emailResult, err := o.scorer.ScoreEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if emailResult.IsFraud {
			o.recordRegistrationBlock(ctx, emailResult, in.IP)
			return nil, fmt.Errorf("%w: registration refused", ErrForbidden)
		}
	}

	phone := util.NormalizePhone(in.Phone)
	if phone != "" && o.fraud.ScreenPhoneOnSignup {
		phoneResult, err := o.scorer.ScorePhone(ctx, phone)
		if err != nil {
			return nil, err
		}
		if phoneResult.IsFraud {
			o.recordRegistrationBlock(ctx, phoneResult, in.IP)
			return nil, fmt.Errorf("%w: registration refused", ErrForbidden)
		}
	}

	if _, err := o.accounts.FindByIdentity(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: email already registered", ErrValidation)
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account := &models.Account{
		Email:        email,
		Phone:        phone,
		PasswordHash: string(hash),
		Status:       models.AccountPending,
	}
	if err := o.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	if _, err := o.otp.Issue(ctx, models.PurposeEmailVerification, email, in.IP); err != nil {
		logger.Warnf("auth: verification code issue failed for %s: %v", email, err)
	}

	logger.Infof("auth: registered account %s", account.ID)
	return account, nil
}

// Login validates credentials and the MFA step, applies the
// failed-login lockout policy and the eligibility verdict, and issues a
// token pair on success.
func (o *AuthOrchestrator) Login(ctx context.Context, in LoginInput) (*TokenPair, error) {
	identity := strings.TrimSpace(strings.ToLower(in.Identity))
	if identity == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: identity and password required", ErrValidation)
	}

	blocked, err := o.blocks.IsBlocked(ctx, in.IP)
	if err != nil {
		return nil, err
	}
	if blocked {
		o.recordAttempt(ctx, identity, in.IP, false, "blocked ip")
		return nil, fmt.Errorf("%w: ip blocked", ErrForbidden)
	}

	burst, err := o.tracker.IsBurst(ctx, AttemptKey(identity, in.IP))
	if err != nil {
		return nil, err
	}
	if burst {
		o.recordAttempt(ctx, identity, in.IP, false, "burst")
		return nil, fmt.Errorf("%w: too many requests", ErrRateLimited)
	}

	account, err := o.accounts.FindByIdentity(ctx, identity)
	if errors.Is(err, repository.ErrAccountNotFound) {
		o.recordAttempt(ctx, identity, in.IP, false, "unknown identity")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	now := o.now()
	if account.Status == models.AccountSuspended {
		o.recordAttempt(ctx, identity, in.IP, false, "suspended")
		return nil, ErrAccountSuspended
	}
	if account.IsLocked(now) {
		o.recordAttempt(ctx, identity, in.IP, false, "locked")
		return nil, ErrAccountLocked
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(in.Password)) != nil {
		if err := o.registerFailure(ctx, account, now); err != nil {
			return nil, err
		}
		o.recordAttempt(ctx, identity, in.IP, false, "bad password")
		return nil, ErrInvalidCredentials
	}

	if account.MFAEnabled {
		if strings.TrimSpace(in.MFACode) == "" {
			o.recordAttempt(ctx, identity, in.IP, false, "mfa missing")
			return nil, ErrMFARequired
		}
		ok, err := o.totp.Verify(account.MFASecret, in.MFACode, now)
		if err != nil {
			return nil, fmt.Errorf("verify mfa: %w", err)
		}
		if !ok {
			if err := o.registerFailure(ctx, account, now); err != nil {
				return nil, err
			}
			o.recordAttempt(ctx, identity, in.IP, false, "mfa invalid")
			return nil, ErrMFAInvalid
		}
	}

	status, err := o.aggregator.CheckLoginEligibility(ctx, identity, in.IP, in.Fingerprint)
	if err != nil {
		return nil, err
	}
	if !status.CanLogin {
		o.recordAttempt(ctx, identity, in.IP, false, strings.Join(status.FailureReasons, "; "))
		return nil, fmt.Errorf("%w: %s", ErrForbidden, strings.Join(status.FailureReasons, "; "))
	}

	if account.FailedLoginAttempts != 0 || account.LockedUntil != nil {
		account.FailedLoginAttempts = 0
		account.LockedUntil = nil
		if err := o.accounts.Update(ctx, account); err != nil {
			return nil, err
		}
	}
	o.recordAttempt(ctx, identity, in.IP, true, "")

	pair, err := o.issuePair(ctx, account)
	if err != nil {
		return nil, err
	}
	logger.Infof("auth: login succeeded for account %s", account.ID)
	return pair, nil
}

// Refresh rotates a refresh token: the presented token is revoked for
// the rest of its lifetime and a new pair is issued.
func (o *AuthOrchestrator) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := o.tokens.Verify(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid refresh token", ErrForbidden)
	}
	if claims.TokenType != "refresh" {
		return nil, fmt.Errorf("%w: wrong token type", ErrForbidden)
	}

	revoked, err := o.isRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fmt.Errorf("%w: token revoked", ErrForbidden)
	}

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed subject", ErrForbidden)
	}
	account, err := o.accounts.FindByID(ctx, accountID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: unknown account", ErrForbidden)
	}
	if err != nil {
		return nil, err
	}
	now := o.now()
	if account.Status == models.AccountSuspended {
		return nil, ErrAccountSuspended
	}
	if account.IsLocked(now) {
		return nil, ErrAccountLocked
	}

	if err := o.revoke(ctx, claims); err != nil {
		return nil, err
	}
	return o.issuePair(ctx, account)
}

// Logout revokes the presented refresh token for the rest of its
// lifetime. Revoking an already-revoked token is a no-op.
func (o *AuthOrchestrator) Logout(ctx context.Context, refreshToken string) error {
	claims, err := o.tokens.Verify(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("%w: invalid refresh token", ErrForbidden)
	}
	if claims.TokenType != "refresh" {
		return fmt.Errorf("%w: wrong token type", ErrForbidden)
	}
	return o.revoke(ctx, claims)
}

// VerifyAccess validates an access token and returns its claims, for
// the middleware guarding authenticated routes.
func (o *AuthOrchestrator) VerifyAccess(ctx context.Context, accessToken string) (models.TokenClaims, error) {
	claims, err := o.tokens.Verify(ctx, accessToken)
	if err != nil {
		return models.TokenClaims{}, fmt.Errorf("%w: invalid token", ErrForbidden)
	}
	if claims.TokenType != "access" {
		return models.TokenClaims{}, fmt.Errorf("%w: wrong token type", ErrForbidden)
	}
	return claims, nil
}

func (o *AuthOrchestrator) issuePair(ctx context.Context, account *models.Account) (*TokenPair, error) {
	access, err := o.tokens.Sign(ctx, models.TokenClaims{
		ID:        uuid.NewString(),
		Subject:   account.ID.String(),
		Email:     account.Email,
		TokenType: "access",
	}, o.tokens.AccessTokenTTL())
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := o.tokens.Sign(ctx, models.TokenClaims{
		ID:        uuid.NewString(),
		Subject:   account.ID.String(),
		TokenType: "refresh",
	}, o.tokens.RefreshTokenTTL())
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(o.tokens.AccessTokenTTL().Seconds()),
	}, nil
}

// registerFailure applies the strike policy: one failure increments the
// counter, and reaching the limit locks the account and resets it.
func (o *AuthOrchestrator) registerFailure(ctx context.Context, account *models.Account, now time.Time) error {
	account.FailedLoginAttempts++
	if account.FailedLoginAttempts >= o.lockout.MaxFailedLogins {
		until := now.Add(o.lockout.LockDuration)
		account.LockedUntil = &until
		account.FailedLoginAttempts = 0
		logger.Warnf("auth: account %s locked until %s", account.ID, until.Format(time.RFC3339))
	}
	return o.accounts.Update(ctx, account)
}

// recordAttempt writes the attempt under both the (identity, ip) key
// and the bare IP key so per-IP brute force is visible to the scorer.
func (o *AuthOrchestrator) recordAttempt(ctx context.Context, identity, ip string, success bool, reason string) {
	if err := o.tracker.Record(ctx, AttemptKey(identity, ip), success, reason); err != nil {
		logger.Errorf("auth: attempt record failed: %v", err)
	}
	if ip != "" {
		if err := o.tracker.Record(ctx, ip, success, reason); err != nil {
			logger.Errorf("auth: ip attempt record failed: %v", err)
		}
	}
}

func (o *AuthOrchestrator) recordRegistrationBlock(ctx context.Context, res models.FraudCheckResult, ip string) {
	reasons := make([]string, len(res.Reasons))
	for i, r := range res.Reasons {
		reasons[i] = string(r)
	}
	decision := "block"
	if res.Score >= o.fraud.AutoBlockScore {
		decision = "auto_block"
	}
	o.events.Publish(telemetry.FraudEvent{
		Signal:   res.Signal,
		Value:    res.Value,
		Score:    res.Score,
		IsFraud:  res.IsFraud,
		Reasons:  reasons,
		Degraded: res.Degraded,
		IP:       ip,
		Decision: decision,
	})
	if o.fraudLog == nil {
		return
	}
	rec := &models.FraudEventRecord{
		EventType: "registration_blocked",
		Signal:    res.Signal,
		Value:     res.Value,
		IPAddress: ip,
		Score:     res.Score,
		Reasons:   reasons,
	}
	if err := o.fraudLog.Insert(ctx, rec); err != nil {
		logger.Errorf("auth: fraud log insert failed: %v", err)
	}
}

func (o *AuthOrchestrator) revoke(ctx context.Context, claims models.TokenClaims) error {
	ttl := time.Until(claims.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := o.store.Set(ctx, revokedTokenPrefix+claims.ID, []byte("1"), ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (o *AuthOrchestrator) isRevoked(ctx context.Context, jti string) (bool, error) {
	_, err := o.store.Get(ctx, revokedTokenPrefix+jti)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
