package postgres

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/GoArmGo/MatchApp/internal/config"
	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/database/client"
	"github.com/GoArmGo/MatchApp/internal/database/storetest"
)

func TestGormUserStorageIntegration(t *testing.T) {
	if os.Getenv("RUN_PG_INTEGRATION") != "true" {
		t.Skip("set RUN_PG_INTEGRATION=true to run PostgreSQL integration tests")
	}
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	cfg := &config.Config{DatabaseURL: databaseURL, DBMaxOpenConns: 5, DBMaxIdleConns: 2}

	// схему создаёт sqlx-клиент
	migrator, err := client.NewClient(cfg, logger)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	_ = migrator.Close()

	db, err := NewGormDB(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = CloseGormDB(db) })

	storetest.Run(t, func(t *testing.T) ports.UserStore {
		if err := db.WithContext(ctx).Exec("TRUNCATE users").Error; err != nil {
			t.Fatalf("truncate users: %v", err)
		}
		return NewGormUserStorage(db, logger)
	})
}
