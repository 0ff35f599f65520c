package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
)

var errAPIKeyRequired = errors.New("stripe api key is required")

// StripeProcessor charges cards through Stripe payment intents.
type StripeProcessor struct {
	client *stripe.Client
}

// NewStripeProcessor builds its own client for apiKey. opts reach
// stripe.NewClient, so tests can point the client at another backend.
func NewStripeProcessor(apiKey string, opts ...stripe.ClientOption) (*StripeProcessor, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	return &StripeProcessor{client: stripe.NewClient(apiKey, opts...)}, nil
}

func (p *StripeProcessor) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("customer_id", req.CustomerID)

	pi, err := p.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return Intent{}, classifyStripeError(err)
	}
	return fromStripeIntent(pi), nil
}

func (p *StripeProcessor) ConfirmIntent(ctx context.Context, intentID, paymentMethodID string) (Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	if paymentMethodID != "" {
		params.PaymentMethod = stripe.String(paymentMethodID)
	}

	pi, err := p.client.V1PaymentIntents.Confirm(ctx, intentID, params)
	if err != nil {
		err = classifyStripeError(err)
		if decline, ok := isDecline(err); ok {
			return Intent{ID: intentID, FailureMessage: decline.Message}, err
		}
		return Intent{}, err
	}
	return fromStripeIntent(pi), nil
}

func (p *StripeProcessor) Refund(ctx context.Context, intentID string, amount int64, reason string) (Refund, error) {
	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(amount),
	}
	params.SetIdempotencyKey("refund_" + intentID)
	if reason != "" {
		params.AddMetadata("reason", reason)
	}

	r, err := p.client.V1Refunds.Create(ctx, params)
	if err != nil {
		return Refund{}, classifyStripeError(err)
	}
	return Refund{ID: r.ID, Amount: r.Amount}, nil
}

// classifyStripeError turns Stripe's refusals into a DeclineError. Card and
// invalid request errors come back the same on every retry; anything else
// (api errors, rate limits, transport failures) is returned as is.
func classifyStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Type {
	case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
		if se.HTTPStatusCode == http.StatusTooManyRequests {
			return err
		}
		msg := se.Msg
		if msg == "" {
			msg = string(se.Code)
		}
		return &DeclineError{Message: msg}
	default:
		return err
	}
}

func fromStripeIntent(pi *stripe.PaymentIntent) Intent {
	in := Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       IntentStatus(pi.Status),
	}
	if pi.PaymentMethod != nil {
		in.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.LastPaymentError != nil {
		in.FailureMessage = pi.LastPaymentError.Msg
	}
	return in
}

// ProcessorEventFromStripe maps a verified Stripe webhook event. ok is false
// for event types the payment service does not act on.
func ProcessorEventFromStripe(event stripe.Event) (ev ProcessorEvent, ok bool, err error) {
	var kind ProcessorEventType
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		kind = ProcessorIntentSucceeded
	case stripe.EventTypePaymentIntentPaymentFailed:
		kind = ProcessorIntentFailed
	default:
		return ProcessorEvent{}, false, nil
	}
	if event.Data == nil {
		return ProcessorEvent{}, false, errors.New("stripe event has no data")
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return ProcessorEvent{}, false, fmt.Errorf("decode payment intent: %w", err)
	}
	ev = ProcessorEvent{ID: event.ID, Type: kind, ProcessorIntentID: pi.ID}
	if pi.PaymentMethod != nil {
		ev.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.LastPaymentError != nil {
		ev.ErrorMessage = pi.LastPaymentError.Msg
	}
	return ev, true, nil
}
