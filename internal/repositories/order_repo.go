package repositories

import (
	"duka/internal/models"
)

// OrderRepository defines the interface for order data access.
type OrderRepository interface {
	GetByID(id string) (*models.Order, error)
	GetByUser(userID string) ([]models.Order, error)
	Create(order *models.Order) error
	UpdateStatus(id string, status string) error
	// UpdatePaymentState sets both the order status and the payment status in
	// one write, used by callback reconciliation.
	UpdatePaymentState(id string, status string, paymentStatus string) error
}
