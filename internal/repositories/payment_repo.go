package repositories

import (
	"duka/internal/models"
)

// PaymentRepository defines the interface for payment data access.
type PaymentRepository interface {
	Create(payment *models.Payment) error
	GetByCheckoutRequestID(id string) (*models.Payment, error)
	// LockByCheckoutRequestID behaves like GetByCheckoutRequestID but takes a
	// row-level lock so concurrent callbacks for the same checkout request id
	// serialize. Only meaningful inside a transaction.
	LockByCheckoutRequestID(id string) (*models.Payment, error)
	GetLatestByOrderID(orderID string) (*models.Payment, error)
	HasPendingForOrder(orderID string) (bool, error)
	Update(payment *models.Payment) error
}
