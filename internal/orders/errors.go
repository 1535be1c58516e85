package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrNotAuthorized   = errors.New("not authorized for this order")
	ErrInvalidOTP      = errors.New("invalid OTP")
	ErrOTPNotIssued    = errors.New("delivery OTP not issued")
	ErrOTPExpired      = errors.New("delivery OTP expired")
	ErrAlreadyVerified = errors.New("delivery already verified")
	ErrRiderAssigned   = errors.New("order already assigned to another rider")
	ErrRiderRequired   = errors.New("order has no assigned rider")
)

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ProductNotFoundError is returned when an order line references an
// unknown product.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product not found: %s", e.ProductID)
}

// InsufficientStockError names the product and the quantities involved so
// the caller can act on it.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

// InvalidTransitionError reports an illegal status change or a cancel
// attempt past the cancellable window.
type InvalidTransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s cannot move from %s to %s", e.OrderID, e.From, e.To)
}
