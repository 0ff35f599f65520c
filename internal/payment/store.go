package payment

import "context"

// Store persists payments. Writes through a ctx returned by WithTx commit
// together with outbox messages enqueued on it.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Get(ctx context.Context, paymentIntentID string) (Payment, error)
	GetByProcessorIntent(ctx context.Context, processorIntentID string) (Payment, error)
	// List returns matching payments, oldest first. Empty filter fields
	// match everything; Limit 0 means no limit.
	List(ctx context.Context, f ListFilter) ([]Payment, error)
	Save(ctx context.Context, p Payment) error
}

type ListFilter struct {
	OrderID    string
	CustomerID string
	Limit      int
}
