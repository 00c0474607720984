package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	rsdomain "device-lock-control-plane/internal/ruleset/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite stores the record in a single-row table of a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies pending migrations.
// path may be ":memory:".
func Open(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Load(ctx context.Context) (*Record, error) {
	var (
		r                                 Record
		enrolled                          int
		lockUntil, lockIssued, lastSynced sql.NullInt64
		updated                           int64
		ruleset                           sql.NullString
		engaged                           string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT device_id, owner_id, installation_id, provision_token, enrolled,
		       lock_token, lock_until, lock_issued_at, lock_id,
		       ruleset, engaged_backends, enforcement_error, last_synced_at, updated_at
		FROM device_state WHERE id = 1`).Scan(
		&r.DeviceID, &r.OwnerID, &r.InstallationID, &r.ProvisionToken, &enrolled,
		&r.LockToken, &lockUntil, &lockIssued, &r.LockID,
		&ruleset, &engaged, &r.EnforcementError, &lastSynced, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	r.Enrolled = enrolled != 0
	r.LockUntil = fromUnix(lockUntil)
	r.LockIssuedAt = fromUnix(lockIssued)
	r.LastSyncedAt = fromUnix(lastSynced)
	r.UpdatedAt = time.Unix(updated, 0).UTC()
	if engaged != "" {
		r.EngagedBackends = strings.Split(engaged, ",")
	}
	if ruleset.Valid && ruleset.String != "" {
		var rs rsdomain.RuleSet
		if err := json.Unmarshal([]byte(ruleset.String), &rs); err != nil {
			return nil, fmt.Errorf("store: decode ruleset: %w", err)
		}
		r.RuleSet = &rs
	}
	return &r, nil
}

func (s *SQLite) Save(ctx context.Context, r *Record) error {
	if r == nil {
		return errors.New("store: nil record")
	}
	var ruleset sql.NullString
	if r.RuleSet != nil {
		raw, err := json.Marshal(r.RuleSet)
		if err != nil {
			return fmt.Errorf("store: encode ruleset: %w", err)
		}
		ruleset = sql.NullString{String: string(raw), Valid: true}
	}
	enrolled := 0
	if r.Enrolled {
		enrolled = 1
	}
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_state (
			id, device_id, owner_id, installation_id, provision_token, enrolled,
			lock_token, lock_until, lock_issued_at, lock_id,
			ruleset, engaged_backends, enforcement_error, last_synced_at, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_id = excluded.device_id,
			owner_id = excluded.owner_id,
			installation_id = excluded.installation_id,
			provision_token = excluded.provision_token,
			enrolled = excluded.enrolled,
			lock_token = excluded.lock_token,
			lock_until = excluded.lock_until,
			lock_issued_at = excluded.lock_issued_at,
			lock_id = excluded.lock_id,
			ruleset = excluded.ruleset,
			engaged_backends = excluded.engaged_backends,
			enforcement_error = excluded.enforcement_error,
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at`,
		r.DeviceID, r.OwnerID, r.InstallationID, r.ProvisionToken, enrolled,
		r.LockToken, toUnix(r.LockUntil), toUnix(r.LockIssuedAt), r.LockID,
		ruleset, strings.Join(r.EngagedBackends, ","), r.EnforcementError,
		toUnix(r.LastSyncedAt), updated.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	return nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM device_state`); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

func toUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromUnix(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0).UTC()
}
