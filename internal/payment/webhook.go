package payment

import (
	"context"
	"fmt"
)

type ProcessorEventType string

const (
	ProcessorIntentSucceeded ProcessorEventType = "payment_intent.succeeded"
	ProcessorIntentFailed    ProcessorEventType = "payment_intent.payment_failed"
)

// ProcessorEvent is a processor notification about one of our intents.
type ProcessorEvent struct {
	ID                string
	Type              ProcessorEventType
	ProcessorIntentID string
	PaymentMethodID   string
	ErrorMessage      string
}

// HandleProcessorEvent applies an asynchronous processor outcome. It reports
// whether the payment changed; events for payments already past the implied
// state change nothing.
func (s *Service) HandleProcessorEvent(ctx context.Context, ev ProcessorEvent) (bool, error) {
	var target Status
	switch ev.Type {
	case ProcessorIntentSucceeded:
		target = StatusSucceeded
	case ProcessorIntentFailed:
		target = StatusFailed
	default:
		return false, nil
	}

	found, err := s.store.GetByProcessorIntent(ctx, ev.ProcessorIntentID)
	if err != nil {
		return false, fmt.Errorf("processor intent %s: %w", ev.ProcessorIntentID, err)
	}
	unlock := s.locks.Lock(found.PaymentIntentID)
	defer unlock()

	p, err := s.store.Get(ctx, found.PaymentIntentID)
	if err != nil {
		return false, err
	}
	ctx = s.logg.WithOrderID(ctx, p.OrderID)
	if !CanTransition(p.Status, target) {
		s.logg.Debug(s.logg.WithField(ctx, "status", string(p.Status)), "processor event needs no change")
		return false, nil
	}

	if target == StatusSucceeded {
		_, err = s.succeed(ctx, p, ev.PaymentMethodID)
	} else {
		msg := ev.ErrorMessage
		if msg == "" {
			msg = "Payment failed"
		}
		_, err = s.fail(ctx, p, msg)
	}
	return err == nil, err
}
