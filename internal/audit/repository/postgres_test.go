package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"device-lock-control-plane/internal/audit/domain"
)

func TestPostgresRepository_CreateAndList(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+audit_logs`).
		WithArgs("a1", "o1", "d1", domain.ActionLockIssued, domain.ResourceLock, "10.0.0.1", nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)^SELECT\s+id,.*FROM\s+audit_logs\s+WHERE\s+owner_id\s*=\s*\$1\s+AND\s+\(\$2\s*=\s*''\s+OR\s+device_id\s*=\s*\$2\).*LIMIT\s+\$3\s+OFFSET\s+\$4$`).
		WithArgs("o1", "", int32(10), int32(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "device_id", "action", "resource", "ip", "metadata", "created_at"}).
			AddRow("a1", "o1", "d1", domain.ActionLockIssued, domain.ResourceLock, "10.0.0.1", nil, now).
			AddRow("a0", "o1", nil, domain.ActionUpdate, domain.ResourceLockPreference, "10.0.0.1", "failed", now.Add(-time.Minute)))

	err = repo.Create(context.Background(), &domain.AuditLog{
		ID: "a1", OwnerID: "o1", DeviceID: "d1", Action: domain.ActionLockIssued, Resource: domain.ResourceLock, IP: "10.0.0.1", CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	logs, err := repo.List(context.Background(), domain.Query{OwnerID: "o1", Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(logs) != 2 || logs[0].DeviceID != "d1" || logs[1].DeviceID != "" || logs[1].Metadata != "failed" {
		t.Fatalf("logs = %+v", logs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepository_ListError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("connection reset"))

	_, err = NewPostgresRepository(db).List(context.Background(), domain.Query{OwnerID: "o1", DeviceID: "d1", Limit: 5})
	if err == nil {
		t.Fatal("List should fail")
	}
}

func TestMemoryRepository_PagesNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	for _, id := range []string{"a1", "a2", "a3"} {
		_ = repo.Create(ctx, &domain.AuditLog{ID: id, OwnerID: "o1"})
	}
	_ = repo.Create(ctx, &domain.AuditLog{ID: "x", OwnerID: "o2"})

	logs, _ := repo.List(ctx, domain.Query{OwnerID: "o1", Limit: 2})
	if len(logs) != 2 || logs[0].ID != "a3" || logs[1].ID != "a2" {
		t.Fatalf("page 1 = %+v", logs)
	}
	logs, _ = repo.List(ctx, domain.Query{OwnerID: "o1", Limit: 2, Offset: 2})
	if len(logs) != 1 || logs[0].ID != "a1" {
		t.Fatalf("page 2 = %+v", logs)
	}
}

func TestMemoryRepository_DeviceFilter(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_ = repo.Create(ctx, &domain.AuditLog{ID: "a1", OwnerID: "o1", DeviceID: "d1"})
	_ = repo.Create(ctx, &domain.AuditLog{ID: "a2", OwnerID: "o1"})
	_ = repo.Create(ctx, &domain.AuditLog{ID: "a3", OwnerID: "o1", DeviceID: "d2"})
	_ = repo.Create(ctx, &domain.AuditLog{ID: "a4", OwnerID: "o1", DeviceID: "d1"})

	logs, _ := repo.List(ctx, domain.Query{OwnerID: "o1", DeviceID: "d1"})
	if len(logs) != 2 || logs[0].ID != "a4" || logs[1].ID != "a1" {
		t.Fatalf("d1 = %+v", logs)
	}
	logs[0].Action = "mutated"
	again, _ := repo.List(ctx, domain.Query{OwnerID: "o1", DeviceID: "d1"})
	if again[0].Action == "mutated" {
		t.Error("List should return copies")
	}
}
