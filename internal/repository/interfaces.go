package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/veriguard/auth-service/internal/models"
)

// ErrAccountNotFound is returned when no account matches the identity.
var ErrAccountNotFound = errors.New("repository: account not found")

// AccountRepository handles account persistence for login and
// verification flows. Identity is an email address or normalized phone
// number.
type AccountRepository interface {
	FindByIdentity(ctx context.Context, identity string) (*models.Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
	Update(ctx context.Context, account *models.Account) error
}

// FraudLogRepository persists fraud events and answers the repeated-
// offender query used in IP scoring.
type FraudLogRepository interface {
	Insert(ctx context.Context, rec *models.FraudEventRecord) error
	CountFlaggedByIP(ctx context.Context, ip string, since time.Time) (int, error)
}
