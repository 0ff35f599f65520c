package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
)

const sweepJob = "reservation_sweep"

// JobLock keeps a job to one replica at a time. redisx.Lock satisfies it.
type JobLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Sweeper periodically expires overdue reservations.
type Sweeper struct {
	svc      *Service
	lock     JobLock
	interval time.Duration
	metrics  *metrics.JobMetrics
	logg     *logger.Logger
}

// NewSweeper builds a sweeper. lock may be nil when a single replica runs.
func NewSweeper(svc *Service, lock JobLock, interval time.Duration, m *metrics.JobMetrics, logg *logger.Logger) (*Sweeper, error) {
	if svc == nil {
		return nil, errors.New("inventory service is required")
	}
	if interval <= 0 {
		return nil, errors.New("sweep interval must be positive")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Sweeper{svc: svc, lock: lock, interval: interval, metrics: m, logg: logg}, nil
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logg.Error(ctx, "reservation sweep failed", err)
			}
		}
	}
}

// RunOnce performs one sweep and reports how many reservations expired. It
// does nothing when another replica holds the lock.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx)
		if err != nil {
			s.metrics.IncFailure(sweepJob)
			return 0, err
		}
		if !ok {
			s.logg.Debug(ctx, "reservation sweep held by another replica")
			return 0, nil
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.logg.Error(ctx, "release sweep lock", err)
			}
		}()
	}

	started := time.Now()
	n, err := s.svc.ExpireReservations(ctx)
	s.metrics.ObserveDuration(sweepJob, time.Since(started))
	s.metrics.AddProcessed(sweepJob, n)
	if err != nil {
		s.metrics.IncFailure(sweepJob)
		return n, err
	}
	s.metrics.IncSuccess(sweepJob)
	if n > 0 {
		s.logg.Info(s.logg.WithField(ctx, "expired", n), "reservations expired")
	}
	return n, nil
}
