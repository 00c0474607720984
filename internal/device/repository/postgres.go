package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"device-lock-control-plane/internal/device/domain"
	rsdomain "device-lock-control-plane/internal/ruleset/domain"
)

const deviceColumns = `id, owner_id, name, platform, status, installation_id, capabilities, settings,
		 lock_until, lock_token, lock_issued_at,
		 reported_state, reported_lock_until, reported_ruleset_version, engaged_backends,
		 last_seen_at, enrolled_at, created_at`

// settingsJSON is the stored form of the settings column.
type settingsJSON struct {
	Categories    map[string]bool `json:"categories"`
	CustomDomains []string        `json:"customDomains"`
	BlockVPN      bool            `json:"blockVPN"`
}

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a device repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the device for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Device, error) {
	query := `SELECT ` + deviceColumns + `
		 FROM devices
		 WHERE id = $1`

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

// ListByOwner returns the owner's devices, oldest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Device, error) {
	query := `SELECT ` + deviceColumns + `
		 FROM devices
		 WHERE owner_id = $1
		 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// Create persists a new device. The device must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, d *domain.Device) error {
	settings, err := encodeSettings(d.Settings)
	if err != nil {
		return err
	}
	caps, err := json.Marshal(nonNil(d.Capabilities))
	if err != nil {
		return err
	}
	status := d.Status
	if status == "" {
		status = domain.StatusPending
	}
	query :=
		`INSERT INTO devices (id, owner_id, name, platform, status, capabilities, settings, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.ExecContext(ctx, query, d.ID, d.OwnerID, d.Name, d.Platform, status, caps, settings, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Delete removes the device; its RuleSets and lock issuances cascade.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

func (r *PostgresRepository) MarkEnrolled(ctx context.Context, id, installationID string, capabilities []string, at time.Time) error {
	caps, err := json.Marshal(nonNil(capabilities))
	if err != nil {
		return err
	}
	query :=
		`UPDATE devices
		 SET status = 'enrolled', installation_id = $2, capabilities = $3, enrolled_at = COALESCE(enrolled_at, $4)
		 WHERE id = $1 AND (installation_id IS NULL OR installation_id = $2)`

	res, err := r.db.ExecContext(ctx, query, id, installationID, caps, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n > 0 {
		return nil
	}

	var existing sql.NullString
	err = r.db.QueryRowContext(ctx, `SELECT installation_id FROM devices WHERE id = $1`, id).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return ErrInstallationMismatch
}

func (r *PostgresRepository) UpdateSettings(ctx context.Context, id string, s rsdomain.Settings) error {
	settings, err := encodeSettings(s)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE devices SET settings = $2 WHERE id = $1`, id, settings)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

// SetLock updates the device's latest lock and inserts the issuance row in one transaction.
func (r *PostgresRepository) SetLock(ctx context.Context, iss domain.LockIssuance, token string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE devices SET lock_until = $2, lock_token = $3, lock_issued_at = $4 WHERE id = $1`,
		iss.DeviceID, iss.LockUntil, token, iss.IssuedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}

	reason := sql.NullString{String: iss.Reason, Valid: iss.Reason != ""}
	query :=
		`INSERT INTO lock_issuances (jti, device_id, owner_id, lock_until, issued_at, reason)
		 VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, query, iss.JTI, iss.DeviceID, iss.OwnerID, iss.LockUntil, iss.IssuedAt, reason); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateMirror(ctx context.Context, id string, m domain.Mirror, seenAt time.Time) error {
	backends, err := json.Marshal(nonNil(m.EngagedBackends))
	if err != nil {
		return err
	}
	lockUntil := sql.NullTime{}
	if m.LockUntil != nil {
		lockUntil = sql.NullTime{Time: *m.LockUntil, Valid: true}
	}
	query :=
		`UPDATE devices
		 SET reported_state = $2, reported_lock_until = $3, reported_ruleset_version = $4,
		     engaged_backends = $5, last_seen_at = $6
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, m.State, lockUntil, m.RuleSetVersion, backends, seenAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*domain.Device, error) {
	var (
		d                                   domain.Device
		installationID, lockToken, repState sql.NullString
		caps, settings, backends            []byte
		lockUntil, lockIssuedAt, repUntil   sql.NullTime
		lastSeen, enrolledAt                sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.OwnerID, &d.Name, &d.Platform, &d.Status, &installationID, &caps, &settings,
		&lockUntil, &lockToken, &lockIssuedAt,
		&repState, &repUntil, &d.Mirror.RuleSetVersion, &backends,
		&lastSeen, &enrolledAt, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.InstallationID = installationID.String
	if err := json.Unmarshal(caps, &d.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	if d.Settings, err = decodeSettings(settings); err != nil {
		return nil, err
	}
	if lockUntil.Valid {
		d.Lock = &domain.Lock{Until: lockUntil.Time, Token: lockToken.String, IssuedAt: lockIssuedAt.Time}
	}
	d.Mirror.State = repState.String
	if repUntil.Valid {
		d.Mirror.LockUntil = &repUntil.Time
	}
	if len(backends) > 0 {
		if err := json.Unmarshal(backends, &d.Mirror.EngagedBackends); err != nil {
			return nil, fmt.Errorf("decode engaged backends: %w", err)
		}
	}
	if lastSeen.Valid {
		d.LastSeenAt = &lastSeen.Time
	}
	if enrolledAt.Valid {
		d.EnrolledAt = &enrolledAt.Time
	}
	return &d, nil
}

func encodeSettings(s rsdomain.Settings) ([]byte, error) {
	return json.Marshal(settingsJSON{Categories: s.Categories, CustomDomains: s.CustomDomains, BlockVPN: s.BlockVPN})
}

func decodeSettings(b []byte) (rsdomain.Settings, error) {
	var sj settingsJSON
	if err := json.Unmarshal(b, &sj); err != nil {
		return rsdomain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return rsdomain.Settings{Categories: sj.Categories, CustomDomains: sj.CustomDomains, BlockVPN: sj.BlockVPN}, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
