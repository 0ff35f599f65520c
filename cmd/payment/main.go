package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-saga-orders/internal/app"
	"github.com/ariefcatur/go-saga-orders/internal/config"
	"github.com/ariefcatur/go-saga-orders/internal/httpx"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/payment"
	"github.com/ariefcatur/go-saga-orders/internal/postgres"
	"github.com/ariefcatur/go-saga-orders/internal/redisx"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: payment.ServiceName})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load(payment.ServiceName)
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
		logg.Error(context.Background(), "payment service stopped", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "payment service shut down gracefully")
}

// run owns every resource it opens, so its deferred cleanup has finished by
// the time main decides the exit code.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	processor, err := newProcessor(cfg.Payment)
	if err != nil {
		return fmt.Errorf("build payment processor: %w", err)
	}

	rt, err := app.Bootstrap(ctx, cfg, logg, postgres.SchemaPayment)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			logg.Error(context.Background(), "error during shutdown", err)
		}
	}()

	svc := payment.NewService(payment.NewPostgresStore(rt.Pool), rt.Outbox, processor,
		payment.WithLogger(logg),
		payment.WithProcessorTimeout(cfg.Payment.ProcessorTimeout),
	)
	if err := rt.Subscribe(payment.ConsumerGroup, svc.Routes()); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	handler := &httpx.PaymentsHandler{Service: svc, Logger: logg}
	guard := redisx.NewWebhookGuard(rt.Redis, cfg.Payment.WebhookDedupTTL)
	register := func(r chi.Router) {
		handler.Register(r)
		if cfg.Payment.StripeWebhookSecret != "" {
			r.Post("/webhooks/stripe", httpx.StripeWebhook(svc, cfg.Payment.StripeWebhookSecret, guard, logg))
		}
	}

	logg.Info(logg.WithField(ctx, "processor", cfg.Payment.Processor), "starting payment service")
	return rt.Run(ctx, register)
}

func newProcessor(cfg config.PaymentConfig) (payment.Processor, error) {
	if strings.EqualFold(cfg.Processor, config.ProcessorStripe) {
		p, err := payment.NewStripeProcessor(cfg.StripeAPIKey)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return payment.NewFakeProcessor(), nil
}
