package payment

import pkgerrors "github.com/ariefcatur/go-saga-orders/internal/errors"

var (
	ErrNotFound       = pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	ErrInvalidState   = pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not in a valid state for this operation")
	ErrProcessor      = pkgerrors.New(pkgerrors.CodeTransient, "payment processor unavailable")
	ErrRefundRejected = pkgerrors.New(pkgerrors.CodeFatal, "processor rejected refund")
	ErrInvalidRefund  = pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive and at most the payment amount")
)
