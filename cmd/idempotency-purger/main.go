package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/Apurer/go-order-reconciler/internal/app/bootstrap"
	orderspostgres "github.com/Apurer/go-order-reconciler/internal/domains/orders/adapters/persistence/postgres"
	platformpostgres "github.com/Apurer/go-order-reconciler/internal/platform/postgres"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	db, cleanup := platformpostgres.ConnectOrFallback(ctx, cfg.PostgresDSN, cfg.Pool(), logger)
	defer cleanup()
	if db == nil {
		log.Fatal("POSTGRES_DSN not set or connection failed; cannot purge idempotency keys")
	}

	store := orderspostgres.NewIdempotencyStore(db)
	removed, err := store.PurgeExpired(ctx, time.Now().Add(-cfg.IdempotencyTTL))
	if err != nil {
		log.Fatalf("failed to purge idempotency keys: %v", err)
	}
	logger.Info("idempotency purge completed", slog.Int64("removed", removed))
}
