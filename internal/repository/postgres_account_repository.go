package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/veriguard/auth-service/internal/models"
)

// PostgresAccountRepository implements AccountRepository on Postgres.
type PostgresAccountRepository struct {
	db *sql.DB
}

func NewPostgresAccountRepository(db *sql.DB) AccountRepository {
	return &PostgresAccountRepository{db: db}
}

const accountColumns = `id, email, phone, password_hash, status, failed_login_attempts, locked_until, mfa_enabled, mfa_secret, created_at, updated_at`

func (r *PostgresAccountRepository) FindByIdentity(ctx context.Context, identity string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1 OR phone = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, identity))
}

func (r *PostgresAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresAccountRepository) scanOne(row *sql.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.Email, &a.Phone, &a.PasswordHash, &a.Status,
		&a.FailedLoginAttempts, &a.LockedUntil, &a.MFAEnabled, &a.MFASecret,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &a, nil
}

func (r *PostgresAccountRepository) Create(ctx context.Context, account *models.Account) error {
	query := `INSERT INTO accounts (email, phone, password_hash, status, failed_login_attempts, locked_until, mfa_enabled, mfa_secret)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		account.Email, account.Phone, account.PasswordHash, account.Status,
		account.FailedLoginAttempts, account.LockedUntil, account.MFAEnabled, account.MFASecret,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *PostgresAccountRepository) Update(ctx context.Context, account *models.Account) error {
	query := `UPDATE accounts
	          SET email = $2, phone = $3, password_hash = $4, status = $5,
	              failed_login_attempts = $6, locked_until = $7, mfa_enabled = $8, mfa_secret = $9,
	              updated_at = now()
	          WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query,
		account.ID, account.Email, account.Phone, account.PasswordHash, account.Status,
		account.FailedLoginAttempts, account.LockedUntil, account.MFAEnabled, account.MFASecret,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
