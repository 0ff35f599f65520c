package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// IntentStatus is the processor-side status of a payment intent.
type IntentStatus string

const (
	IntentSucceeded             IntentStatus = "succeeded"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentCanceled              IntentStatus = "canceled"
)

type IntentRequest struct {
	// IdempotencyKey makes retried creates return the same processor intent.
	IdempotencyKey string
	OrderID        string
	CustomerID     string
	CustomerEmail  string
	Amount         int64
	Currency       string
}

type Intent struct {
	ID              string
	ClientSecret    string
	Status          IntentStatus
	PaymentMethodID string
	// FailureMessage is the processor's last error, if any.
	FailureMessage string
}

type Refund struct {
	ID     string
	Amount int64
}

// Processor is the external card processor.
type Processor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	ConfirmIntent(ctx context.Context, intentID, paymentMethodID string) (Intent, error)
	Refund(ctx context.Context, intentID string, amount int64, reason string) (Refund, error)
}

// DeclineError is a processor's business refusal of a charge, create or
// refund. Unlike a transport failure, retrying does not help.
type DeclineError struct {
	Message string
}

func (e *DeclineError) Error() string { return "payment declined: " + e.Message }

func isDecline(err error) (*DeclineError, bool) {
	var d *DeclineError
	ok := errors.As(err, &d)
	return d, ok
}

// DeclinedPaymentMethod always declines with FakeProcessor, matching the
// Stripe test card of the same name.
const DeclinedPaymentMethod = "pm_card_chargeDeclined"

// FakeProcessor is a deterministic in-process Processor.
type FakeProcessor struct {
	// MinimumAmount refuses creates below it, like Stripe's minimum charge.
	MinimumAmount int64

	mu      sync.Mutex
	intents map[string]Intent
	amounts map[string]int64
	refunds map[string]Refund
}

func NewFakeProcessor() *FakeProcessor {
	return &FakeProcessor{
		intents: make(map[string]Intent),
		amounts: make(map[string]int64),
		refunds: make(map[string]Refund),
	}
}

func (f *FakeProcessor) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "pi_fake_" + req.IdempotencyKey
	if in, ok := f.intents[id]; ok {
		return in, nil
	}
	if req.Amount < f.MinimumAmount {
		return Intent{}, &DeclineError{Message: fmt.Sprintf("Amount must be at least %d %s", f.MinimumAmount, req.Currency)}
	}
	in := Intent{ID: id, ClientSecret: id + "_secret", Status: IntentRequiresPaymentMethod}
	f.intents[id] = in
	f.amounts[id] = req.Amount
	return in, nil
}

func (f *FakeProcessor) ConfirmIntent(_ context.Context, intentID, paymentMethodID string) (Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[intentID]
	if !ok {
		return Intent{}, fmt.Errorf("no such intent %s", intentID)
	}
	switch {
	case paymentMethodID == DeclinedPaymentMethod:
		in.Status = IntentRequiresPaymentMethod
		in.FailureMessage = "Your card was declined."
		f.intents[intentID] = in
		return in, &DeclineError{Message: in.FailureMessage}
	case paymentMethodID == "":
		in.Status = IntentRequiresPaymentMethod
	default:
		in.Status = IntentSucceeded
		in.PaymentMethodID = paymentMethodID
	}
	f.intents[intentID] = in
	return in, nil
}

func (f *FakeProcessor) Refund(_ context.Context, intentID string, amount int64, _ string) (Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.refunds[intentID]; ok {
		return r, nil
	}
	in, ok := f.intents[intentID]
	if !ok || in.Status != IntentSucceeded {
		return Refund{}, fmt.Errorf("intent %s has no charge to refund", intentID)
	}
	if amount > f.amounts[intentID] {
		return Refund{}, &DeclineError{Message: fmt.Sprintf("refund %d exceeds charge %d", amount, f.amounts[intentID])}
	}
	r := Refund{ID: "re_fake_" + intentID, Amount: amount}
	f.refunds[intentID] = r
	return r, nil
}
