package service

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/veriguard/auth-service/internal/config"
	"github.com/veriguard/auth-service/internal/models"
	"github.com/veriguard/auth-service/internal/provider"
	"github.com/veriguard/auth-service/internal/repository"
	"github.com/veriguard/auth-service/internal/util"
	"github.com/veriguard/auth-service/internal/util/logger"
)

// Heuristic weights. Each adds points only when triggered; the sum is
// clamped to 100 and a total of 50 or more marks the signal fraudulent.
const (
	weightDisposableEmail = 40
	weightNoMXRecord      = 50
	weightSpamPattern     = 30

	weightInvalidFormat  = 40
	weightInvalidNumber  = 50
	weightVoipNumber     = 60
	weightVirtualNumber  = 70
	weightRecycledNumber = 35

	weightBlacklistedIP   = 100
	weightVpnIP           = 40
	weightProxyIP         = 40
	weightTorIP           = 80
	weightHighRiskCountry = 50
	weightBruteForceIP    = 60
	weightRepeatFraudIP   = 50
)

// Built-in throwaway-inbox domains; the config list extends this.
var disposableDomains = []string{
	"mailinator.com",
	"guerrillamail.com",
	"10minutemail.com",
	"tempmail.com",
	"temp-mail.org",
	"throwawaymail.com",
	"trashmail.com",
	"yopmail.com",
	"getnada.com",
	"sharklasers.com",
	"maildrop.cc",
	"dispostable.com",
}

var (
	numericLocalRe = regexp.MustCompile(`^[0-9]+$`)
	longDigitRunRe = regexp.MustCompile(`[0-9]{10,}`)
)

var spamWords = []string{"test", "fake", "spam", "noreply"}

// FraudScorer evaluates a single signal (email, phone or IP) into a
// score and reason set. Scoring never mutates shared state; provider
// failures degrade the result instead of failing the call.
type FraudScorer struct {
	cfg      config.FraudConfig
	mx       provider.MXResolver
	carrier  provider.CarrierLookup
	ipRep    provider.IPReputationLookup
	fraudLog repository.FraudLogRepository
	tracker  *LoginAttemptTracker

	disposable map[string]struct{}
	highRisk   map[string]struct{}
	blacklist  []*net.IPNet

	now func() time.Time
}

func NewFraudScorer(
	cfg config.FraudConfig,
	mx provider.MXResolver,
	carrier provider.CarrierLookup,
	ipRep provider.IPReputationLookup,
	fraudLog repository.FraudLogRepository,
	tracker *LoginAttemptTracker,
) *FraudScorer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 50
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 3 * time.Second
	}
	if cfg.RepeatFraudMinimum <= 0 {
		cfg.RepeatFraudMinimum = 3
	}
	if cfg.RepeatFraudWindow <= 0 {
		cfg.RepeatFraudWindow = 30 * 24 * time.Hour
	}

	s := &FraudScorer{
		cfg:        cfg,
		mx:         mx,
		carrier:    carrier,
		ipRep:      ipRep,
		fraudLog:   fraudLog,
		tracker:    tracker,
		disposable: make(map[string]struct{}),
		highRisk:   make(map[string]struct{}),
		now:        time.Now,
	}
	for _, d := range disposableDomains {
		s.disposable[strings.ToLower(d)] = struct{}{}
	}
	for _, d := range cfg.DisposableDomains {
		s.disposable[strings.ToLower(d)] = struct{}{}
	}
	for _, c := range cfg.HighRiskCountries {
		s.highRisk[strings.ToUpper(c)] = struct{}{}
	}
	for _, cidr := range cfg.BlacklistedCIDRs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warnf("fraud: skipping bad blacklist cidr %q: %v", cidr, err)
			continue
		}
		s.blacklist = append(s.blacklist, ipnet)
	}
	return s
}

// SetClock overrides the time source for tests.
func (s *FraudScorer) SetClock(now func() time.Time) { s.now = now }

// ScoreEmail evaluates an email address.
func (s *FraudScorer) ScoreEmail(ctx context.Context, email string) (models.FraudCheckResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	local, domain, ok := splitEmail(email)
	if !ok {
		return models.FraudCheckResult{}, fmt.Errorf("%w: malformed email", ErrValidation)
	}

	res := newResult("email", email)

	if _, hit := s.disposable[domain]; hit {
		addReason(&res, models.ReasonDisposableEmail, weightDisposableEmail)
	}

	hasMX, err := s.lookupMX(ctx, domain)
	if err != nil {
		// Lookup failure is counted as no MX for email. Conflates
		// transient DNS errors with dead domains; kept for parity with
		// the scoring policy this replaces.
		logger.Warnf("fraud: mx lookup degraded for %s: %v", domain, err)
		res.Degraded = true
		hasMX = false
	}
	if !hasMX {
		addReason(&res, models.ReasonNoMXRecord, weightNoMXRecord)
	}

	if matchesSpamPattern(local) {
		addReason(&res, models.ReasonFakeEmail, weightSpamPattern)
	}

	finalize(&res, s.cfg.Threshold)
	return res, nil
}

// ScorePhone evaluates a phone number.
func (s *FraudScorer) ScorePhone(ctx context.Context, phone string) (models.FraudCheckResult, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return models.FraudCheckResult{}, fmt.Errorf("%w: empty phone", ErrValidation)
	}
	normalized := util.NormalizePhone(phone)

	res := newResult("phone", normalized)

	if !util.IsValidPhoneFormat(normalized) {
		addReason(&res, models.ReasonInvalidPhone, weightInvalidFormat)
	}

	info, err := s.lookupCarrier(ctx, normalized)
	if err != nil {
		logger.Warnf("fraud: carrier lookup degraded for %s: %v", normalized, err)
		res.Degraded = true
	} else {
		res.Details["carrier"] = info.Carrier
		if !info.Valid {
			addReason(&res, models.ReasonInvalidNumber, weightInvalidNumber)
		}
		if info.IsVoip {
			addReason(&res, models.ReasonVoipNumber, weightVoipNumber)
		}
		if info.IsVirtual {
			addReason(&res, models.ReasonVirtualNumber, weightVirtualNumber)
		}
		if info.IsRecycled {
			addReason(&res, models.ReasonRecycledNumber, weightRecycledNumber)
		}
	}

	finalize(&res, s.cfg.Threshold)
	return res, nil
}

// ScoreIP evaluates an IP address, folding in brute-force history for
// the IP and prior fraud-flagged registrations traced to it.
func (s *FraudScorer) ScoreIP(ctx context.Context, ip string) (models.FraudCheckResult, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return models.FraudCheckResult{}, fmt.Errorf("%w: malformed ip", ErrValidation)
	}
	ipStr := parsed.String()

	res := newResult("ip", ipStr)

	for _, ipnet := range s.blacklist {
		if ipnet.Contains(parsed) {
			addReason(&res, models.ReasonBlacklistedIP, weightBlacklistedIP)
			break
		}
	}

	rep, err := s.lookupIPReputation(ctx, ipStr)
	if err != nil {
		logger.Warnf("fraud: ip reputation degraded for %s: %v", ipStr, err)
		res.Degraded = true
	} else {
		res.Details["country"] = rep.Country
		res.Details["isp"] = rep.ISP
		if rep.IsVpn {
			addReason(&res, models.ReasonVpnIP, weightVpnIP)
		}
		if rep.IsProxy {
			addReason(&res, models.ReasonProxyIP, weightProxyIP)
		}
		if rep.IsTor {
			addReason(&res, models.ReasonTorIP, weightTorIP)
		}
		if _, hit := s.highRisk[strings.ToUpper(rep.Country)]; hit {
			addReason(&res, models.ReasonHighRiskCountry, weightHighRiskCountry)
		}
	}

	if s.tracker != nil {
		brute, err := s.tracker.IsBruteForce(ctx, ipStr)
		if err != nil {
			logger.Warnf("fraud: brute-force check degraded for %s: %v", ipStr, err)
			res.Degraded = true
		} else if brute {
			addReason(&res, models.ReasonBruteForceIP, weightBruteForceIP)
		}
	}

	if s.fraudLog != nil {
		since := s.now().Add(-s.cfg.RepeatFraudWindow)
		n, err := s.fraudLog.CountFlaggedByIP(ctx, ipStr, since)
		if err != nil {
			logger.Warnf("fraud: repeat-offender lookup degraded for %s: %v", ipStr, err)
			res.Degraded = true
		} else if n >= s.cfg.RepeatFraudMinimum {
			res.Details["prior_flagged"] = n
			addReason(&res, models.ReasonRepeatFraudIP, weightRepeatFraudIP)
		}
	}

	finalize(&res, s.cfg.Threshold)
	return res, nil
}

// Provider calls carry a bounded timeout and one retry.

func (s *FraudScorer) lookupMX(ctx context.Context, domain string) (bool, error) {
	var hasMX bool
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		hasMX, err = s.mx.HasMX(ctx, domain)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransientProvider, err)
	}
	return hasMX, nil
}

func (s *FraudScorer) lookupCarrier(ctx context.Context, phone string) (provider.CarrierInfo, error) {
	var info provider.CarrierInfo
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		info, err = s.carrier.LookupCarrier(ctx, phone)
		return err
	})
	if err != nil {
		return provider.CarrierInfo{}, fmt.Errorf("%w: %v", ErrTransientProvider, err)
	}
	return info, nil
}

func (s *FraudScorer) lookupIPReputation(ctx context.Context, ip string) (provider.IPReputation, error) {
	var rep provider.IPReputation
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		rep, err = s.ipRep.LookupIPReputation(ctx, ip)
		return err
	})
	if err != nil {
		return provider.IPReputation{}, fmt.Errorf("%w: %v", ErrTransientProvider, err)
	}
	return rep, nil
}

func (s *FraudScorer) withRetry(ctx context.Context, call func(ctx context.Context) error) error {
	var lastErr error
	for i := 0; i < 2; i++ {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		lastErr = call(cctx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func newResult(signal, value string) models.FraudCheckResult {
	return models.FraudCheckResult{
		Signal:  signal,
		Value:   value,
		Reasons: []models.FraudReason{},
		Details: models.JSONMap{},
	}
}

func addReason(res *models.FraudCheckResult, reason models.FraudReason, weight int) {
	res.Score += weight
	res.Reasons = append(res.Reasons, reason)
}

func finalize(res *models.FraudCheckResult, threshold int) {
	if res.Score > 100 {
		res.Score = 100
	}
	if res.Score < 0 {
		res.Score = 0
	}
	res.IsFraud = res.Score >= threshold
}

func splitEmail(email string) (local, domain string, ok bool) {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", "", false
	}
	local, domain = email[:at], email[at+1:]
	if !strings.Contains(domain, ".") {
		return "", "", false
	}
	return local, domain, true
}

func matchesSpamPattern(local string) bool {
	if numericLocalRe.MatchString(local) {
		return true
	}
	if longDigitRunRe.MatchString(local) {
		return true
	}
	lower := strings.ToLower(local)
	for _, w := range spamWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
