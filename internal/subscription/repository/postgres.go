package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"device-lock-control-plane/internal/subscription/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a subscription repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByOwner returns the subscription for ownerID, or nil if not found.
func (r *PostgresRepository) GetByOwner(ctx context.Context, ownerID string) (*domain.Subscription, error) {
	query :=
		`SELECT owner_id, status, current_period_end, updated_at
		 FROM subscriptions
		 WHERE owner_id = $1`

	var (
		s   domain.Subscription
		end sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&s.OwnerID, &s.Status, &end, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if end.Valid {
		s.CurrentPeriodEnd = &end.Time
	}
	return &s, nil
}

// Upsert inserts or replaces the owner's subscription row.
func (r *PostgresRepository) Upsert(ctx context.Context, s *domain.Subscription) error {
	end := sql.NullTime{}
	if s.CurrentPeriodEnd != nil {
		end = sql.NullTime{Time: *s.CurrentPeriodEnd, Valid: true}
	}
	query :=
		`INSERT INTO subscriptions (owner_id, status, current_period_end, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_id) DO UPDATE
		 SET status = EXCLUDED.status, current_period_end = EXCLUDED.current_period_end, updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query, s.OwnerID, s.Status, end, s.UpdatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
