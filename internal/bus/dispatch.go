package bus

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
	"github.com/ariefcatur/go-saga-orders/internal/telemetry"
)

const (
	defaultMaxAttempts    = 5
	defaultBaseBackoff    = 200 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	defaultHandlerTimeout = 15 * time.Second
	jitterWindow          = 100 * time.Millisecond

	HeaderDeadLetterReason = "x-dead-letter-reason"
	HeaderDeadLetterGroup  = "x-dead-letter-group"
	HeaderAttempts         = "x-attempts"
)

// DispatchConfig bounds handler execution and retries.
type DispatchConfig struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	HandlerTimeout time.Duration
}

// Dispatcher runs a handler under the error taxonomy: transient failures are
// retried with backoff, fatal ones and exhausted retries go to the dead-letter
// topic, and business rejections are logged and acknowledged.
type Dispatcher struct {
	cfg        DispatchConfig
	deadLetter Publisher
	logg       *logger.Logger
	metrics    *metrics.ConsumerMetrics
	sleep      func(ctx context.Context, d time.Duration) error

	jitterMu sync.Mutex
	jitter   *rand.Rand
}

func NewDispatcher(cfg DispatchConfig, deadLetter Publisher, logg *logger.Logger, m *metrics.ConsumerMetrics) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultHandlerTimeout
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Dispatcher{
		cfg:        cfg,
		deadLetter: deadLetter,
		logg:       logg,
		metrics:    m,
		sleep:      sleepCtx,
		jitter:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Deliver returns nil once the message is settled (handled, acknowledged or
// dead-lettered). A non-nil error means the message must not be committed.
func (d *Dispatcher) Deliver(ctx context.Context, group string, msg Message, h Handler) error {
	ctx = telemetry.Extract(ctx, msg.Headers)
	ctx = d.logg.WithFields(ctx, map[string]any{
		"topic":      msg.Topic,
		"group":      group,
		"event_type": msg.Headers[events.HeaderEventType],
		"event_id":   msg.Headers[events.HeaderEventID],
		"key":        string(msg.Key),
	})

	backoff := d.cfg.BaseBackoff
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		msg.Attempt = attempt
		started := time.Now()
		err := d.invoke(ctx, msg, h)
		if err == nil {
			d.metrics.Observe(msg.Topic, group, "ok", time.Since(started))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		switch pkgerrors.DispositionOf(err) {
		case pkgerrors.Ack:
			d.metrics.Observe(msg.Topic, group, "ack_error", time.Since(started))
			d.logg.Warn(d.logg.WithField(ctx, "error", err.Error()), "message rejected, acknowledging")
			return nil
		case pkgerrors.DeadLetter:
			d.metrics.Observe(msg.Topic, group, "dead_letter", time.Since(started))
			return d.park(ctx, group, msg, err)
		}

		d.metrics.Observe(msg.Topic, group, "retry", time.Since(started))
		if attempt == d.cfg.MaxAttempts {
			break
		}
		d.logg.Warn(d.logg.WithFields(ctx, map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		}), "message handler failed, retrying")
		if err := d.sleep(ctx, d.withJitter(backoff)); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, d.cfg.MaxBackoff)
	}

	return d.park(ctx, group, msg, fmt.Errorf("max attempts reached: %w", lastErr))
}

func (d *Dispatcher) invoke(ctx context.Context, msg Message, h Handler) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Newf(pkgerrors.CodeFatal, "handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

func (d *Dispatcher) park(ctx context.Context, group string, msg Message, cause error) error {
	d.logg.Error(ctx, "message dead-lettered", cause)
	if d.deadLetter == nil {
		return nil
	}
	headers := cloneHeaders(msg.Headers)
	headers[HeaderDeadLetterReason] = cause.Error()
	headers[HeaderDeadLetterGroup] = group
	headers[HeaderAttempts] = strconv.Itoa(msg.Attempt)
	dlq := Message{
		Topic:   events.DeadLetterTopic(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	if err := d.deadLetter.Publish(ctx, dlq); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

func (d *Dispatcher) withJitter(backoff time.Duration) time.Duration {
	d.jitterMu.Lock()
	defer d.jitterMu.Unlock()
	return backoff + time.Duration(d.jitter.Int63n(int64(jitterWindow)))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
