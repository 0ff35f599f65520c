// Package app holds the process wiring shared by the saga services: config,
// logging, tracing, Postgres, Redis, the Kafka bus, the outbox relay and the
// HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-saga-orders/internal/bus"
	"github.com/ariefcatur/go-saga-orders/internal/config"
	"github.com/ariefcatur/go-saga-orders/internal/httpx"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/ariefcatur/go-saga-orders/internal/postgres"
	"github.com/ariefcatur/go-saga-orders/internal/redisx"
	"github.com/ariefcatur/go-saga-orders/internal/telemetry"
)

// Job is a background loop that runs until its context ends.
type Job func(ctx context.Context) error

type Runtime struct {
	Config   *config.Config
	Logger   *logger.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Bus      *bus.KafkaBus
	Outbox   *outbox.PostgresStore
	Registry *prometheus.Registry

	dedup         *redisx.DedupStore
	stopTracing   func(context.Context) error
	subscriptions int
}

// Bootstrap connects every shared dependency. The outbox schema is always
// migrated alongside the service's own schemas.
func Bootstrap(ctx context.Context, cfg *config.Config, logg *logger.Logger, schemas ...postgres.Schema) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logg, Registry: prometheus.NewRegistry()}
	if err := rt.connect(ctx, schemas); err != nil {
		_ = rt.Close(context.Background())
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) connect(ctx context.Context, schemas []postgres.Schema) (err error) {
	cfg, logg := rt.Config, rt.Logger

	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if rt.stopTracing, err = telemetry.Setup(ctx, cfg.App.ServiceName, cfg.Telemetry); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if rt.Pool, err = postgres.Connect(ctx, cfg.Postgres); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if cfg.Postgres.Migrate {
		all := append([]postgres.Schema{postgres.SchemaOutbox}, schemas...)
		if err = postgres.Migrate(ctx, rt.Pool, all...); err != nil {
			return err
		}
		logg.Info(ctx, "schema migrated")
	}
	if rt.Redis, err = redisx.New(ctx, cfg.Redis); err != nil {
		return err
	}
	if rt.dedup, err = redisx.NewDedupStore(rt.Redis, cfg.Redis.DedupTTL); err != nil {
		return err
	}

	rt.Bus = bus.NewKafka(bus.KafkaOptions{
		Brokers:      cfg.Kafka.Brokers,
		GroupPrefix:  cfg.Kafka.GroupPrefix,
		Workers:      cfg.Kafka.Workers,
		WriteTimeout: cfg.Kafka.WriteTimeout,
		Dispatch: bus.DispatchConfig{
			MaxAttempts:    cfg.Kafka.MaxAttempts,
			BaseBackoff:    cfg.Kafka.RetryBackoff,
			MaxBackoff:     cfg.Kafka.MaxBackoff,
			HandlerTimeout: cfg.Kafka.HandlerTimeout,
		},
		Logger:  logg,
		Metrics: metrics.NewConsumerMetrics(rt.Registry),
	})
	rt.Outbox = outbox.NewPostgresStore(rt.Pool)
	return nil
}

// Subscribe registers routes for a consumer group behind the Redis dedup
// middleware.
func (rt *Runtime) Subscribe(group string, routes []bus.Route) error {
	rt.subscriptions += len(routes)
	return bus.SubscribeAll(rt.Bus, group, routes, bus.Dedup(rt.dedup, group, rt.Logger))
}

// Run serves HTTP, relays the outbox, consumes the bus and runs jobs until ctx
// ends or one of them fails.
func (rt *Runtime) Run(ctx context.Context, register func(r chi.Router), jobs ...Job) error {
	relay, err := outbox.NewRelay(outbox.RelayParams{
		Store:        rt.Outbox,
		Publisher:    rt.Bus,
		Logger:       rt.Logger,
		Metrics:      metrics.NewOutboxMetrics(rt.Registry),
		BatchSize:    rt.Config.Outbox.BatchSize,
		PollInterval: rt.Config.Outbox.PollInterval,
		MaxAttempts:  rt.Config.Outbox.MaxAttempts,
	})
	if err != nil {
		return err
	}

	router := httpx.NewRouter(httpx.RouterParams{Logger: rt.Logger, Gatherer: rt.Registry})
	register(router)
	srv := httpx.NewServer(rt.Config.App.HTTPAddr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.Logger.Info(rt.Logger.WithField(ctx, "addr", srv.Addr), "http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.Config.App.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error { return ignoreCanceled(relay.Run(ctx)) })
	if rt.subscriptions > 0 {
		g.Go(func() error { return ignoreCanceled(rt.Bus.Run(ctx)) })
	}
	for _, job := range jobs {
		g.Go(func() error { return ignoreCanceled(job(ctx)) })
	}
	return g.Wait()
}

// Close releases everything Bootstrap opened.
func (rt *Runtime) Close(ctx context.Context) error {
	var err error
	if rt.Bus != nil {
		err = multierr.Append(err, rt.Bus.Close())
	}
	if rt.Redis != nil {
		err = multierr.Append(err, rt.Redis.Close())
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.stopTracing != nil {
		err = multierr.Append(err, rt.stopTracing(ctx))
	}
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
