package services

import (
	"fmt"

	"duka/internal/models"
	"duka/internal/repositories"
)

// OrderService handles order queries and post-fulfillment status
// transitions. Pre-fulfillment transitions belong to the payment flow and
// are never issued from here.
type OrderService struct {
	orders repositories.OrderRepository
	tx     repositories.TxManager
}

// NewOrderService creates a new OrderService.
func NewOrderService(orders repositories.OrderRepository, tx repositories.TxManager) *OrderService {
	return &OrderService{
		orders: orders,
		tx:     tx,
	}
}

// GetOrdersByUser retrieves all orders belonging to a user.
func (s *OrderService) GetOrdersByUser(userID string) ([]models.Order, error) {
	return s.orders.GetByUser(userID)
}

// GetOrderByID retrieves a single order by its ID.
func (s *OrderService) GetOrderByID(id string) (*models.Order, error) {
	return s.orders.GetByID(id)
}

// adminTransitions is the set of status changes an admin may apply.
var adminTransitions = map[string][]string{
	models.OrderStatusProcessing:      {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:         {models.OrderStatusDelivered},
	models.OrderStatusAwaitingPayment: {models.OrderStatusCancelled},
	models.OrderStatusPaymentFailed:   {models.OrderStatusCancelled},
}

func transitionAllowed(from, to string) bool {
	for _, allowed := range adminTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// UpdateOrderStatus applies an admin status transition. Cancelling an order
// whose payment already committed restores the decremented stock in the
// same transaction.
func (s *OrderService) UpdateOrderStatus(id string, status string) error {
	return s.tx.InTransaction(func(r repositories.TxRepos) error {
		order, err := r.Orders().GetByID(id)
		if err != nil {
			return err
		}
		if !transitionAllowed(order.Status, status) {
			return fmt.Errorf("cannot move order %s from %s to %s: %w", id, order.Status, status, ErrInvalidTransition)
		}

		if status == models.OrderStatusCancelled && order.PaymentStatus == models.OrderPaymentPaid {
			ledger := NewInventoryLedger(r.Products())
			if err := ledger.Restore(order.Items); err != nil {
				return fmt.Errorf("failed to restore stock for cancelled order %s: %w", id, err)
			}
		}

		return r.Orders().UpdateStatus(id, status)
	})
}
