package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"device-lock-control-plane/internal/ownersettings/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an owner settings repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, ownerID string) (*domain.LockPreference, error) {
	query :=
		`SELECT owner_id, preferred_lock_minutes
		 FROM owner_settings
		 WHERE owner_id = $1`

	var p domain.LockPreference
	if err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&p.OwnerID, &p.Minutes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, p *domain.LockPreference) error {
	query :=
		`INSERT INTO owner_settings (owner_id, preferred_lock_minutes)
		 VALUES ($1, $2)
		 ON CONFLICT (owner_id) DO UPDATE SET preferred_lock_minutes = EXCLUDED.preferred_lock_minutes`

	if _, err := r.db.ExecContext(ctx, query, p.OwnerID, p.Minutes); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
