package orders

import pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"

var (
	ErrNotFound          = pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	ErrInvalidTransition = pkgerrors.New(pkgerrors.CodeStateConflict, "invalid order status transition")
	ErrAlreadyExists     = pkgerrors.New(pkgerrors.CodeConflict, "order already exists")
	ErrAmountOutOfRange  = pkgerrors.New(pkgerrors.CodeValidation, "order amount out of range")
)
