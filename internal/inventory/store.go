package inventory

import (
	"context"
	"time"
)

// Store persists products, reservations and request outcomes. Writes made
// through a ctx returned by WithTx commit or roll back together, along with
// outbox messages enqueued on the same ctx.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetProduct(ctx context.Context, id string) (Product, error)
	// GetProductsForUpdate returns the products that exist among ids, row-locked
	// for the rest of the transaction.
	GetProductsForUpdate(ctx context.Context, ids []string) (map[string]Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	// SearchProducts matches term against the name, SKU and category of
	// active products, case-insensitively.
	SearchProducts(ctx context.Context, term string, limit int) ([]Product, error)
	SaveProduct(ctx context.Context, p Product) error

	// GetReservation returns the reservation of orderID or ErrReservationNotFound.
	GetReservation(ctx context.Context, orderID string) (Reservation, error)
	// GetReservationForUpdate is GetReservation with the row locked for the
	// rest of the transaction. Take it before any product lock.
	GetReservationForUpdate(ctx context.Context, orderID string) (Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error)
	SaveReservation(ctx context.Context, r Reservation) error
	ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]Reservation, error)

	GetRequestOutcome(ctx context.Context, orderID string) (RequestOutcome, bool, error)
	SaveRequestOutcome(ctx context.Context, orderID string, outcome RequestOutcome, at time.Time) error
}
