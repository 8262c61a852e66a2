package checkout

import (
	"errors"

	"github.com/imrishuroy/bitsmart-orderflow/internal/apperrors"
)

var (
	ErrUnauthenticated      = errors.New("buyer is not authenticated")
	ErrPaymentNotConfigured = errors.New("payment gateway not configured")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrRoleMismatch         = errors.New("seller does not serve this buyer")
	ErrInsufficientStock    = errors.New("ordered quantity exceeds available stock")
	ErrPersistence          = errors.New("order persistence failed")
)

// User-facing messages.
const (
	msgUnauthenticated   = "Please sign in again to place your order."
	msgNotConfigured     = "Payments are not set up. Please contact support."
	msgEmptyCart         = "Your cart is empty."
	msgRoleMismatch      = "Some items in your cart cannot be bought from that seller."
	msgInsufficientStock = "Some items are no longer available in the requested quantity."
	msgPersistence       = "We could not complete your order. Please try again."
	msgInProgress        = "This order is already being placed."
	msgKeyReused         = "This idempotency key belongs to another request."
)

func preconditionError(code apperrors.Code, sentinel error, message string) *apperrors.Error {
	return apperrors.Wrap(code, sentinel, message)
}

func persistenceError(cause error) error {
	return apperrors.Wrap(apperrors.CodeInternal, errors.Join(ErrPersistence, cause), msgPersistence)
}
