package orders

import "time"

type Customer struct {
	CustomerID string `json:"customerId" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	FirstName  string `json:"firstName" validate:"required"`
	LastName   string `json:"lastName" validate:"required"`
	Phone      string `json:"phone,omitempty"`
}

type Address struct {
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required"`
}

type Item struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	LineTotal   int64  `json:"lineTotal"`
}

// Order amounts are in minor currency units.
type Order struct {
	ID              string    `json:"id"`
	OrderNumber     string    `json:"orderNumber"`
	ExternalID      string    `json:"externalId,omitempty"`
	Customer        Customer  `json:"customer"`
	Items           []Item    `json:"items"`
	Subtotal        int64     `json:"subtotal"`
	Tax             int64     `json:"tax"`
	ShippingCost    int64     `json:"shippingCost"`
	Total           int64     `json:"total"`
	Currency        string    `json:"currency"`
	Status          Status    `json:"status"`
	ShippingAddress Address   `json:"shippingAddress"`
	PaymentMethod   string    `json:"paymentMethod,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CancelReason    string    `json:"cancelReason,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type ItemInput struct {
	ProductID   string `json:"productId" validate:"required"`
	ProductName string `json:"productName" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"gt=0,lte=1000000"`
	UnitPrice   int64  `json:"unitPrice" validate:"gte=0,lte=100000000"`
}

type CreateOrderInput struct {
	// ExternalID is an optional client key; repeating it returns the
	// order created the first time.
	ExternalID      string      `json:"externalId,omitempty" validate:"omitempty,max=128"`
	Customer        Customer    `json:"customer"`
	Items           []ItemInput `json:"items" validate:"required,min=1,dive"`
	ShippingAddress Address     `json:"shippingAddress"`
	PaymentMethod   string      `json:"paymentMethod,omitempty"`
	Notes           string      `json:"notes,omitempty" validate:"max=1000"`
}

type UpdateOrderInput struct {
	Status          *Status  `json:"status,omitempty"`
	ShippingAddress *Address `json:"shippingAddress,omitempty"`
	Notes           *string  `json:"notes,omitempty" validate:"omitempty,max=1000"`
	CancelReason    string   `json:"cancelReason,omitempty"`
}

type ListFilter struct {
	Status     Status
	CustomerID string
	Limit      int
}

// StatusView is the cached answer to "where is my order".
type StatusView struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	Status      Status    `json:"status"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (o Order) statusView() StatusView {
	return StatusView{OrderID: o.ID, OrderNumber: o.OrderNumber, Status: o.Status, UpdatedAt: o.UpdatedAt}
}
