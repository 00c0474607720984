// seed inserts development sample data for local testing: an active subscription and a
// lock preference for the dev owner. It prints a bearer access token for that owner.
// Idempotent: rows are upserted.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"device-lock-control-plane/internal/config"
	"device-lock-control-plane/internal/db"
	prefdomain "device-lock-control-plane/internal/ownersettings/domain"
	prefrepo "device-lock-control-plane/internal/ownersettings/repository"
	"device-lock-control-plane/internal/security"
	subdomain "device-lock-control-plane/internal/subscription/domain"
	subrepo "device-lock-control-plane/internal/subscription/repository"
)

const devOwnerID = "dev-owner-001"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPool)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	now := time.Now().UTC()
	periodEnd := now.AddDate(0, 1, 0)
	if err := subrepo.NewPostgresRepository(conn).Upsert(ctx, &subdomain.Subscription{
		OwnerID:          devOwnerID,
		Status:           subdomain.StatusActive,
		CurrentPeriodEnd: &periodEnd,
		UpdatedAt:        now,
	}); err != nil {
		log.Fatalf("seed subscription: %v", err)
	}
	if err := prefrepo.NewPostgresRepository(conn).Upsert(ctx, &prefdomain.LockPreference{
		OwnerID: devOwnerID,
		Minutes: prefdomain.DefaultLockMinutes,
	}); err != nil {
		log.Fatalf("seed lock preference: %v", err)
	}
	log.Printf("seeded subscription and lock preference for %s", devOwnerID)

	keys, err := security.TokenKeys(cfg.JWTSecret, cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		log.Printf("no owner token printed: %v", err)
		return
	}
	access, expiresAt, err := security.NewTokenProvider(keys, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL()).IssueAccess(devOwnerID)
	if err != nil {
		log.Printf("no owner token printed (a signing key is required): %v", err)
		return
	}
	fmt.Printf("owner access token (expires %s):\n%s\n", expiresAt.Format(time.RFC3339), access)
}
