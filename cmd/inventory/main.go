package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-saga-orders/internal/app"
	"github.com/ariefcatur/go-saga-orders/internal/config"
	"github.com/ariefcatur/go-saga-orders/internal/httpx"
	"github.com/ariefcatur/go-saga-orders/internal/inventory"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
	"github.com/ariefcatur/go-saga-orders/internal/postgres"
	"github.com/ariefcatur/go-saga-orders/internal/redisx"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: inventory.ServiceName})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load(inventory.ServiceName)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: cfg.App.ServiceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logg)
	stop()
	if err != nil {
		logg.Error(context.Background(), "inventory service stopped", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "inventory service shut down gracefully")
}

// run owns every resource it opens, so its deferred cleanup has finished by
// the time main decides the exit code.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	rt, err := app.Bootstrap(ctx, cfg, logg, postgres.SchemaInventory)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			logg.Error(context.Background(), "error during shutdown", err)
		}
	}()

	svc := inventory.NewService(inventory.NewPostgresStore(rt.Pool), rt.Outbox,
		inventory.WithLogger(logg),
		inventory.WithReservationTTL(cfg.Inventory.ReservationTTL),
		inventory.WithLowStockThreshold(cfg.Inventory.LowStockThreshold),
		inventory.WithProducerName(cfg.App.ServiceName),
	)
	if err := rt.Subscribe(inventory.ConsumerGroup, svc.Routes()); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	lock, err := redisx.NewLock(rt.Redis, "inventory:reservation-sweep", cfg.Inventory.SweepLockTTL)
	if err != nil {
		return fmt.Errorf("build sweep lock: %w", err)
	}
	sweeper, err := inventory.NewSweeper(svc, lock, cfg.Inventory.SweepInterval, metrics.NewJobMetrics(rt.Registry), logg)
	if err != nil {
		return fmt.Errorf("build sweeper: %w", err)
	}

	handler := &httpx.InventoryHandler{Service: svc, Logger: logg}
	logg.Info(ctx, "starting inventory service")
	return rt.Run(ctx, func(r chi.Router) { handler.Register(r) }, sweeper.Run)
}
