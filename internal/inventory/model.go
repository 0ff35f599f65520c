package inventory

import (
	"fmt"
	"math"
	"time"
)

type Product struct {
	ID                string    `json:"id"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	Category          string    `json:"category,omitempty"`
	Price             int64     `json:"price"`
	StockQuantity     int64     `json:"stockQuantity"`
	ReservedQuantity  int64     `json:"reservedQuantity"`
	LowStockThreshold int64     `json:"lowStockThreshold"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Available is what a new reservation may still take.
func (p Product) Available() int64 {
	return p.StockQuantity - p.ReservedQuantity
}

func (p Product) lowOnStock() bool {
	return p.Active && p.StockQuantity <= p.LowStockThreshold
}

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

type Item struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName,omitempty"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
}

type Reservation struct {
	ID         string            `json:"id"`
	OrderID    string            `json:"orderId"`
	CustomerID string            `json:"customerId"`
	Items      []Item            `json:"items"`
	Status     ReservationStatus `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	ExpiresAt  time.Time         `json:"expiresAt"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationPending, ReservationConfirmed, ReservationReleased, ReservationExpired:
		return true
	}
	return false
}

// ReservationFilter narrows ListReservations; zero fields match everything.
type ReservationFilter struct {
	CustomerID string
	Status     ReservationStatus
}

// ReservationID is deterministic so redelivered requests map to one reservation.
func ReservationID(orderID string) string {
	return "res_" + orderID
}

func (r Reservation) productIDs() []string {
	ids := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

// MaxLineQuantity bounds a single reservation line.
const MaxLineQuantity = 1_000_000

// quantities sums item quantities per product.
func quantities(items []Item) (map[string]int64, error) {
	out := make(map[string]int64, len(items))
	for _, it := range items {
		sum, err := addQuantity(out[it.ProductID], it.Quantity)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", it.ProductID, err)
		}
		out[it.ProductID] = sum
	}
	return out, nil
}

// addQuantity adds a and b, failing instead of wrapping around.
func addQuantity(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrQuantityOverflow
	}
	return a + b, nil
}

// RequestOutcome records how the first reservation request of an order was answered.
type RequestOutcome string

const (
	OutcomeReserved     RequestOutcome = "reserved"
	OutcomeInsufficient RequestOutcome = "insufficient"
	// OutcomeDuplicate is returned, never stored, for a request seen before.
	OutcomeDuplicate RequestOutcome = "duplicate"
)

type InsufficientItem struct {
	ProductID         string `json:"productId"`
	ProductName       string `json:"productName"`
	RequestedQuantity int64  `json:"requestedQuantity"`
	AvailableQuantity int64  `json:"availableQuantity"`
}

type ReservationRequest struct {
	OrderID    string
	CustomerID string
	Items      []Item
	// Timeout overrides the configured reservation TTL when positive.
	Timeout time.Duration
}

type RequestResult struct {
	Outcome      RequestOutcome
	Reservation  *Reservation
	Insufficient []InsufficientItem
}
