package services

import "errors"

// Errors the payment flow distinguishes so callers can branch on the
// expected outcomes instead of matching message text.
var (
	// ErrPaymentNotFound means an inbound callback references a checkout
	// request id no payment record carries.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrDuplicateCallback means a callback arrived for a payment already in
	// a terminal state. It marks an idempotent no-op, not a fault.
	ErrDuplicateCallback = errors.New("callback already applied")

	// ErrPaymentPending means the order already has a charge awaiting its
	// callback and a second one must not be started.
	ErrPaymentPending = errors.New("a payment is already pending for this order")

	// ErrOversellConflict means stock was sufficient at checkout time but
	// gone by the time the successful callback tried to commit it.
	ErrOversellConflict = errors.New("stock no longer available")

	// ErrNotOrderOwner means the caller does not own the order.
	ErrNotOrderOwner = errors.New("order does not belong to user")

	// ErrOrderNotPayable means the order is in a state that does not accept
	// a new payment attempt.
	ErrOrderNotPayable = errors.New("order does not accept payment in its current state")

	// ErrInvalidTransition means an order status change is not allowed from
	// the order's current status.
	ErrInvalidTransition = errors.New("invalid order status transition")
)
