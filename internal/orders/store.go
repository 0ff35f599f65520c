package orders

import "context"

// Store persists orders. Writes through a ctx returned by WithTx commit
// together with outbox messages enqueued on it.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// Create inserts a new order; a taken order number or external id yields
	// ErrAlreadyExists.
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate is Get with the order row locked until the transaction
	// in ctx ends, so handlers on other replicas queue behind it.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	GetByNumber(ctx context.Context, number string) (Order, error)
	GetByExternalID(ctx context.Context, externalID string) (Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)
	// Update rewrites the mutable fields of an existing order.
	Update(ctx context.Context, o Order) error
}
