package payment

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusSucceeded, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusSucceeded, StatusFailed, StatusCancelled},
	StatusSucceeded:  {StatusRefunded},
}

// CanTransition reports whether a payment may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Open payments can still be confirmed or cancelled.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusProcessing
}

type Item struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName,omitempty"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
}

type Payment struct {
	PaymentIntentID   string     `json:"paymentIntentId"`
	OrderID           string     `json:"orderId"`
	CustomerID        string     `json:"customerId"`
	CustomerEmail     string     `json:"customerEmail,omitempty"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	Status            Status     `json:"status"`
	ProcessorIntentID string     `json:"processorIntentId,omitempty"`
	ClientSecret      string     `json:"clientSecret,omitempty"`
	PaymentMethodID   string     `json:"paymentMethodId,omitempty"`
	Items             []Item     `json:"items,omitempty"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
	RefundID          string     `json:"refundId,omitempty"`
	RefundAmount      int64      `json:"refundAmount,omitempty"`
	RefundReason      string     `json:"refundReason,omitempty"`
	PaidAt            *time.Time `json:"paidAt,omitempty"`
	FailedAt          *time.Time `json:"failedAt,omitempty"`
	RefundedAt        *time.Time `json:"refundedAt,omitempty"`
	CancelledAt       *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// IntentID is deterministic so a redelivered request maps to the same payment.
func IntentID(orderID string) string {
	return "pay_" + orderID
}
