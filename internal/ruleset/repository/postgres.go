package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"device-lock-control-plane/internal/ruleset/domain"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a RuleSet repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Latest returns the newest RuleSet for deviceID, or nil if the device has none.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Latest(ctx context.Context, deviceID string) (*domain.RuleSet, error) {
	query :=
		`SELECT device_id, version, categories, blocked_domains, default_unknown_sni, generated_at
		 FROM device_rulesets
		 WHERE device_id = $1
		 ORDER BY version DESC
		 LIMIT 1`

	var (
		rs         domain.RuleSet
		categories []byte
		domains    []byte
	)
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&rs.DeviceID, &rs.Version, &categories, &domains, &rs.Policy.DefaultUnknownSNI, &rs.GeneratedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := json.Unmarshal(categories, &rs.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	if err := json.Unmarshal(domains, &rs.BlockedDomains); err != nil {
		return nil, fmt.Errorf("decode blocked domains: %w", err)
	}
	return &rs, nil
}

// Create inserts rs. A duplicate (device_id, version) returns ErrVersionExists.
func (r *PostgresRepository) Create(ctx context.Context, rs *domain.RuleSet) error {
	categories, err := json.Marshal(rs.Categories)
	if err != nil {
		return err
	}
	domains, err := json.Marshal(rs.BlockedDomains)
	if err != nil {
		return err
	}
	query :=
		`INSERT INTO device_rulesets (device_id, version, categories, blocked_domains, default_unknown_sni, generated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = r.db.ExecContext(ctx, query,
		rs.DeviceID, rs.Version, categories, domains, rs.Policy.DefaultUnknownSNI, rs.GeneratedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrVersionExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
