package repository

import (
	"context"
	"database/sql"
	"fmt"

	"device-lock-control-plane/internal/audit/domain"
)

const (
	insertAuditLog = `INSERT INTO audit_logs (id, owner_id, device_id, action, resource, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	// device_id is NULL for owner-level entries, so they only match the empty filter.
	selectAuditLogs = `SELECT id, owner_id, device_id, action, resource, ip, metadata, created_at
		FROM audit_logs
		WHERE owner_id = $1 AND ($2 = '' OR device_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx, insertAuditLog,
		a.ID, a.OwnerID, nullable(a.DeviceID), a.Action, a.Resource, a.IP, nullable(a.Metadata), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log %s: %w", a.ID, err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, q domain.Query) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, selectAuditLogs, q.OwnerID, q.DeviceID, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	out := []*domain.AuditLog{}
	for rows.Next() {
		var (
			a              domain.AuditLog
			deviceID, meta sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.OwnerID, &deviceID, &a.Action, &a.Resource, &a.IP, &meta, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		a.DeviceID, a.Metadata = deviceID.String, meta.String
		out = append(out, &a)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
