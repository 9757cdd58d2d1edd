package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veriguard/auth-service/internal/models"
)

// MemoryAccountRepository is an in-memory AccountRepository for tests
// and dev mode.
type MemoryAccountRepository struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]models.Account
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{accounts: make(map[uuid.UUID]models.Account)}
}

func (r *MemoryAccountRepository) FindByIdentity(ctx context.Context, identity string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if strings.EqualFold(a.Email, identity) || a.Phone == identity {
			cp := a
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (r *MemoryAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := a
	return &cp, nil
}

func (r *MemoryAccountRepository) Create(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	r.accounts[account.ID] = *account
	return nil
}

func (r *MemoryAccountRepository) Update(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[account.ID]; !ok {
		return ErrAccountNotFound
	}
	account.UpdatedAt = time.Now().UTC()
	r.accounts[account.ID] = *account
	return nil
}

// MemoryFraudLogRepository is an in-memory FraudLogRepository for tests
// and dev mode.
type MemoryFraudLogRepository struct {
	mu     sync.RWMutex
	events []models.FraudEventRecord
}

func NewMemoryFraudLogRepository() *MemoryFraudLogRepository {
	return &MemoryFraudLogRepository{}
}

func (r *MemoryFraudLogRepository) Insert(ctx context.Context, rec *models.FraudEventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	r.events = append(r.events, *rec)
	return nil
}

func (r *MemoryFraudLogRepository) CountFlaggedByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, ev := range r.events {
		if ev.IPAddress == ip && ev.EventType == "registration_blocked" && !ev.CreatedAt.Before(since) {
			seen[ev.Value] = struct{}{}
		}
	}
	return len(seen), nil
}
