package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veriguard/auth-service/internal/config"
	"github.com/veriguard/auth-service/internal/models"
	"github.com/veriguard/auth-service/internal/provider"
	"github.com/veriguard/auth-service/internal/store"
)

// testClock is a controllable time source shared between a service and
// its backing store.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(clock *testClock) *store.MemoryStore {
	st := store.NewMemoryStore()
	st.SetClock(clock.Now)
	return st
}

func newTestScorer(clock *testClock, tracker *LoginAttemptTracker) *FraudScorer {
	s := NewFraudScorer(
		config.FraudConfig{
			Threshold:         50,
			BlacklistedCIDRs:  []string{"192.0.2.0/24"},
			HighRiskCountries: []string{"XX"},
		},
		&provider.StubMXResolver{NoMXDomains: []string{"nomx.example"}},
		provider.StubCarrierLookup{},
		provider.StubIPReputationLookup{},
		nil,
		tracker,
	)
	s.SetClock(clock.Now)
	return s
}

// failingCarrier always errors, for degraded-path tests.
type failingCarrier struct{}

func (failingCarrier) LookupCarrier(ctx context.Context, phone string) (provider.CarrierInfo, error) {
	return provider.CarrierInfo{}, errors.New("carrier unreachable")
}

// capturingPublisher keeps published events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *capturingPublisher) Publish(ev any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturingPublisher) all() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.events...)
}

// fakeIssuer is an in-memory TokenIssuer.
type fakeIssuer struct {
	mu     sync.Mutex
	clock  *testClock
	issued map[string]models.TokenClaims
}

func newFakeIssuer(clock *testClock) *fakeIssuer {
	return &fakeIssuer{clock: clock, issued: make(map[string]models.TokenClaims)}
}

func (f *fakeIssuer) Sign(ctx context.Context, claims models.TokenClaims, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claims.ExpiresAt = f.clock.Now().Add(ttl)
	token := uuid.NewString()
	f.issued[token] = claims
	return token, nil
}

func (f *fakeIssuer) Verify(ctx context.Context, token string) (models.TokenClaims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claims, ok := f.issued[token]
	if !ok {
		return models.TokenClaims{}, errors.New("unknown token")
	}
	if f.clock.Now().After(claims.ExpiresAt) {
		return models.TokenClaims{}, errors.New("token expired")
	}
	return claims, nil
}

func (f *fakeIssuer) AccessTokenTTL() time.Duration  { return 15 * time.Minute }
func (f *fakeIssuer) RefreshTokenTTL() time.Duration { return 720 * time.Hour }
