package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"device-lock-control-plane/internal/ownersettings/domain"
)

func TestPostgresRepository_GetAndUpsert(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepository(db)

	q := `(?s)^SELECT\s+owner_id,\s*preferred_lock_minutes\s+FROM\s+owner_settings\s+WHERE\s+owner_id\s*=\s*\$1$`
	mock.ExpectQuery(q).WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "preferred_lock_minutes"}).AddRow("o1", 90))
	mock.ExpectQuery(q).WithArgs("o2").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+owner_settings.*ON\s+CONFLICT`).
		WithArgs("o1", 120).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p, err := repo.Get(context.Background(), "o1")
	if err != nil || p == nil || p.Minutes != 90 {
		t.Fatalf("Get(o1) = %+v, %v", p, err)
	}
	if p, err := repo.Get(context.Background(), "o2"); p != nil || err != nil {
		t.Fatalf("Get(o2) = %+v, %v; want nil, nil", p, err)
	}
	if err := repo.Upsert(context.Background(), &domain.LockPreference{OwnerID: "o1", Minutes: 120}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	if p, _ := repo.Get(ctx, "o1"); p != nil {
		t.Fatalf("expected nil, got %+v", p)
	}
	_ = repo.Upsert(ctx, &domain.LockPreference{OwnerID: "o1", Minutes: 45})
	if p, _ := repo.Get(ctx, "o1"); p == nil || p.Minutes != 45 {
		t.Fatalf("Get = %+v", p)
	}
}
