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
	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
	"github.com/ariefcatur/go-saga-orders/internal/orders"
	"github.com/ariefcatur/go-saga-orders/internal/postgres"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: orders.ServiceName})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load(orders.ServiceName)
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
		logg.Error(context.Background(), "order service stopped", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "order service shut down gracefully")
}

// run owns every resource it opens, so its deferred cleanup has finished by
// the time main decides the exit code.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	rt, err := app.Bootstrap(ctx, cfg, logg, postgres.SchemaOrders)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			logg.Error(context.Background(), "error during shutdown", err)
		}
	}()

	sagas, err := orders.NewRedisSagaStore(rt.Redis, cfg.Redis.SagaTTL)
	if err != nil {
		return fmt.Errorf("build saga store: %w", err)
	}
	svc := orders.NewService(orders.NewRepo(rt.Pool), sagas, rt.Outbox,
		orders.WithLogger(logg),
		orders.WithStatusCache(orders.NewRedisStatusCache(rt.Redis, cfg.Order.StatusCacheTTL)),
		orders.WithSagaMetrics(metrics.NewSagaMetrics(rt.Registry)),
		orders.WithPricing(orders.Pricing{
			TaxRateBasisPoints: cfg.Order.TaxRateBasisPoints,
			ShippingCost:       cfg.Order.ShippingCost,
		}),
		orders.WithCurrency(cfg.Order.Currency),
		orders.WithReservationTimeout(cfg.Order.ReservationTimeoutMinutes),
	)
	if err := rt.Subscribe(orders.ConsumerGroup, svc.Routes()); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	handler := &httpx.OrdersHandler{Service: svc, Logger: logg}
	logg.Info(ctx, "starting order service")
	return rt.Run(ctx, func(r chi.Router) { handler.Register(r) })
}
