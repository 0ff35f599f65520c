package httpx

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"
	"github.com/ariefcatur/go-saga-orders/internal/logger"
	"github.com/ariefcatur/go-saga-orders/internal/payment"
)

type processorEventHandler interface {
	HandleProcessorEvent(ctx context.Context, ev payment.ProcessorEvent) (bool, error)
}

type webhookGuard interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// StripeWebhook verifies and applies Stripe payment intent events. An event
// id is marked only after it was applied, so Stripe's retry of a failed or
// interrupted delivery is processed again.
func StripeWebhook(svc processorEventHandler, secret string, guard webhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || guard == nil || secret == "" {
			WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook handling not configured"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "read request body"))
			return
		}
		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}
		event, err := webhook.ConstructEvent(payload, sigHeader, secret)
		if err != nil {
			WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature"))
			return
		}

		ev, ok, err := payment.ProcessorEventFromStripe(event)
		if err != nil {
			WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed stripe event"))
			return
		}
		if !ok {
			WriteSuccess(w, http.StatusOK, nil)
			return
		}

		seen, err := guard.Seen(ctx, event.ID)
		if err != nil {
			WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "check webhook idempotency"))
			return
		}
		if seen {
			WriteSuccess(w, http.StatusOK, nil)
			return
		}

		changed, err := svc.HandleProcessorEvent(ctx, ev)
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			// Intents created outside this service.
			if logg != nil {
				logg.Info(logg.WithField(ctx, "processor_intent_id", ev.ProcessorIntentID), "stripe event for unknown intent")
			}
			WriteSuccess(w, http.StatusOK, nil)
			return
		}
		if err != nil {
			WriteError(ctx, logg, w, err)
			return
		}
		if err := guard.Mark(context.WithoutCancel(ctx), event.ID); err != nil && logg != nil {
			logg.Error(ctx, "mark stripe event processed", err)
		}

		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"stripe_event_id": event.ID,
				"event_type":      string(event.Type),
				"changed":         changed,
			}), "stripe event processed")
		}
		WriteSuccess(w, http.StatusOK, nil)
	}
}
