package inventory

import pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"

var (
	ErrProductNotFound     = pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	ErrReservationNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "no pending reservation for order")
	ErrInsufficientStock   = pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock")
	ErrBelowReserved       = pkgerrors.New(pkgerrors.CodeConflict, "stock would drop below reserved quantity")
	ErrNegativeStock       = pkgerrors.New(pkgerrors.CodeValidation, "stock cannot be negative")
	ErrQuantityOverflow    = pkgerrors.New(pkgerrors.CodeValidation, "quantity out of range")
	// ErrReservedMismatch means a product holds less reserved stock than a
	// pending reservation claims; the books need fixing by hand.
	ErrReservedMismatch = pkgerrors.New(pkgerrors.CodeFatal, "reserved quantity does not cover reservation")
)
