package outbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/bus"
	"github.com/ariefcatur/go-saga-orders/internal/clock"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxAttempts  = 10
	maxBackoff          = 10 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

type RelayParams struct {
	Store        Store
	Publisher    bus.Publisher
	Logger       *logger.Logger
	Metrics      *metrics.OutboxMetrics
	Clock        clock.Clock
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

// Relay moves pending outbox messages onto the bus. A message that keeps
// failing is retried with exponential backoff and marked dead after
// MaxAttempts.
type Relay struct {
	store        Store
	pub          bus.Publisher
	logg         *logger.Logger
	metrics      *metrics.OutboxMetrics
	clock        clock.Clock
	batchSize    int
	pollInterval time.Duration
	maxAttempts  int

	jitterMu sync.Mutex
	jitter   *rand.Rand
}

func NewRelay(params RelayParams) (*Relay, error) {
	if params.Store == nil {
		return nil, errors.New("outbox store is required")
	}
	if params.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Clock == nil {
		params.Clock = clock.NewSystem()
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	poll := params.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	attempts := params.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Relay{
		store:        params.Store,
		pub:          params.Publisher,
		logg:         params.Logger,
		metrics:      params.Metrics,
		clock:        params.Clock,
		batchSize:    batch,
		pollInterval: poll,
		maxAttempts:  attempts,
		jitter:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (r *Relay) Run(ctx context.Context) error {
	backoff := r.pollInterval
	for {
		select {
		case <-ctx.Done():
			r.logg.Info(ctx, "outbox relay stopped")
			return nil
		default:
		}

		n, err := r.processBatch(ctx)
		if err != nil {
			r.logg.Error(ctx, "outbox relay batch error", err)
			backoff = nextBackoff(backoff, r.pollInterval, maxBackoff)
			if err := r.sleep(ctx, r.withJitter(backoff)); err != nil {
				return nil
			}
			continue
		}
		backoff = r.pollInterval
		if n > 0 {
			continue
		}
		if err := r.sleep(ctx, r.withJitter(r.pollInterval)); err != nil {
			return nil
		}
	}
}

// Flush publishes batches until none are available and returns how many
// messages were handled.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.processBatch(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

func (r *Relay) processBatch(ctx context.Context) (int, error) {
	msgs, err := r.store.FetchPending(ctx, r.batchSize, r.clock.Now())
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		fields := map[string]any{
			"outbox_id":  m.ID,
			"topic":      m.Topic,
			"key":        m.Key,
			"attempts":   m.Attempts,
			"event_type": m.Headers["x-event-type"],
		}
		if err := r.pub.Publish(ctx, m.busMessage()); err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			next := m.Attempts + 1
			wctx := r.logg.WithFields(ctx, fields)
			if next >= r.maxAttempts {
				r.metrics.IncDead(m.Topic)
				r.logg.Error(wctx, "outbox message will not be retried", err)
				if markErr := r.store.MarkDead(ctx, m.ID, fmt.Errorf("max publish attempts reached: %w", err)); markErr != nil {
					return 0, fmt.Errorf("mark dead %s: %w", m.ID, markErr)
				}
				continue
			}
			r.metrics.IncFailed(m.Topic)
			r.logg.Warn(r.logg.WithField(wctx, "error", err.Error()), "outbox publish failed")
			retryAt := r.clock.Now().Add(r.withJitter(retryDelay(next, r.pollInterval)))
			if markErr := r.store.MarkFailed(ctx, m.ID, err, retryAt); markErr != nil {
				return 0, fmt.Errorf("mark failure %s: %w", m.ID, markErr)
			}
			continue
		}
		if err := r.store.MarkPublished(ctx, m.ID, r.clock.Now()); err != nil {
			return 0, fmt.Errorf("mark published %s: %w", m.ID, err)
		}
		r.metrics.IncPublished(m.Topic)
		r.logg.Debug(r.logg.WithFields(ctx, fields), "outbox message published")
	}
	return len(msgs), nil
}

func (r *Relay) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Relay) withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	r.jitterMu.Lock()
	defer r.jitterMu.Unlock()
	return d + time.Duration(r.jitter.Int63n(int64(jitterWindow)))
}

func retryDelay(attempt int, base time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d = nextBackoff(d, base, maxBackoff)
	}
	return d
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sortByCreated(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
}
