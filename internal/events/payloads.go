package events

import "time"

// Item is a line of an order as it travels between services. Money is in
// minor currency units.
type Item struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName,omitempty"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
}

type OrderCreated struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	CustomerID  string `json:"customerId"`
	Subtotal    int64  `json:"subtotal"`
	Tax         int64  `json:"tax"`
	Shipping    int64  `json:"shippingCost"`
	Total       int64  `json:"total"`
	Currency    string `json:"currency"`
	Items       []Item `json:"items"`
}

type OrderConfirmed struct {
	OrderID         string `json:"orderId"`
	OrderNumber     string `json:"orderNumber"`
	CustomerID      string `json:"customerId"`
	ReservationID   string `json:"reservationId"`
	PaymentIntentID string `json:"paymentIntentId"`
}

type OrderUpdated struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
	Previous    string `json:"previousStatus"`
}

type OrderCancelled struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	CustomerID  string `json:"customerId"`
	Reason      string `json:"reason"`
}

type InventoryReservationRequested struct {
	OrderID        string `json:"orderId"`
	CustomerID     string `json:"customerId"`
	Items          []Item `json:"items"`
	TimeoutMinutes int    `json:"reservationTimeoutMinutes,omitempty"`
}

type InventoryReserved struct {
	OrderID       string    `json:"orderId"`
	ReservationID string    `json:"reservationId"`
	CustomerID    string    `json:"customerId"`
	Items         []Item    `json:"items"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type InsufficientItem struct {
	ProductID         string `json:"productId"`
	ProductName       string `json:"productName"`
	RequestedQuantity int64  `json:"requestedQuantity"`
	AvailableQuantity int64  `json:"availableQuantity"`
}

type InventoryInsufficient struct {
	OrderID           string             `json:"orderId"`
	CustomerID        string             `json:"customerId"`
	InsufficientItems []InsufficientItem `json:"insufficientItems"`
	Reason            string             `json:"reason"`
}

type InventoryReservationRelease struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId,omitempty"`
	Reason        string `json:"reason"`
}

type InventoryReservationConfirm struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId,omitempty"`
}

type InventoryReleased struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId"`
	CustomerID    string `json:"customerId"`
	Items         []Item `json:"items"`
	Reason        string `json:"reason"`
}

type InventoryConfirmed struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId"`
	Items         []Item `json:"items"`
}

type LowStockAlert struct {
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	CurrentStock int64  `json:"currentStock"`
	Threshold    int64  `json:"threshold"`
}

type PaymentProcessingRequested struct {
	OrderID       string `json:"orderId"`
	CustomerID    string `json:"customerId"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
	Items         []Item `json:"items,omitempty"`
}

type PaymentRefundRequested struct {
	OrderID         string `json:"orderId"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	Amount          *int64 `json:"amount,omitempty"`
	Reason          string `json:"reason"`
}

type PaymentIntentCreated struct {
	PaymentIntentID string `json:"paymentIntentId"`
	OrderID         string `json:"orderId"`
	CustomerID      string `json:"customerId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	ClientSecret    string `json:"clientSecret,omitempty"`
}

type PaymentSucceeded struct {
	PaymentIntentID string    `json:"paymentIntentId"`
	OrderID         string    `json:"orderId"`
	CustomerID      string    `json:"customerId"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	PaymentMethodID string    `json:"paymentMethodId,omitempty"`
	PaidAt          time.Time `json:"paidAt"`
}

type PaymentFailed struct {
	PaymentIntentID string    `json:"paymentIntentId"`
	OrderID         string    `json:"orderId"`
	CustomerID      string    `json:"customerId"`
	Amount          int64     `json:"amount"`
	ErrorMessage    string    `json:"errorMessage"`
	FailedAt        time.Time `json:"failedAt"`
}

type PaymentRefunded struct {
	PaymentIntentID string    `json:"paymentIntentId"`
	OrderID         string    `json:"orderId"`
	CustomerID      string    `json:"customerId"`
	Amount          int64     `json:"amount"`
	RefundAmount    int64     `json:"refundAmount"`
	RefundID        string    `json:"refundId"`
	Reason          string    `json:"reason,omitempty"`
	RefundedAt      time.Time `json:"refundedAt"`
}
