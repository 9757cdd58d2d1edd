package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/veriguard/auth-service/internal/models"
)

// PostgresFraudLogRepository implements FraudLogRepository on Postgres.
type PostgresFraudLogRepository struct {
	db *sql.DB
}

func NewPostgresFraudLogRepository(db *sql.DB) FraudLogRepository {
	return &PostgresFraudLogRepository{db: db}
}

func (r *PostgresFraudLogRepository) Insert(ctx context.Context, rec *models.FraudEventRecord) error {
	query := `INSERT INTO fraud_events (event_type, signal, value, ip_address, score, reasons)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		rec.EventType, rec.Signal, rec.Value, rec.IPAddress, rec.Score, pq.Array(rec.Reasons),
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert fraud event: %w", err)
	}
	return nil
}

func (r *PostgresFraudLogRepository) CountFlaggedByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	query := `SELECT count(DISTINCT value) FROM fraud_events
	          WHERE ip_address = $1 AND event_type = 'registration_blocked' AND created_at >= $2`
	var n int
	err := r.db.QueryRowContext(ctx, query, ip, since).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("count flagged by ip: %w", err)
	}
	return n, nil
}
