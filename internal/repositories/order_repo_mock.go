package repositories

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"duka/internal/models"

	"github.com/google/uuid"
)

// MockOrderRepository is an in-memory implementation of OrderRepository.
type MockOrderRepository struct {
	orders map[string]models.Order
	mu     sync.RWMutex
}

// NewMockOrderRepository creates a new instance of MockOrderRepository.
func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders: make(map[string]models.Order),
	}
}

func cloneOrder(order models.Order) models.Order {
	items := make([]models.OrderItem, len(order.Items))
	copy(items, order.Items)
	order.Items = items
	return order
}

// GetByID returns an order by its ID.
func (r *MockOrderRepository) GetByID(id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("order with ID %s not found", id)
	}
	order = cloneOrder(order)
	return &order, nil
}

// GetByUser returns all orders belonging to a user, newest first.
func (r *MockOrderRepository) GetByUser(userID string) ([]models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var orderList []models.Order
	for _, order := range r.orders {
		if order.UserID == userID {
			orderList = append(orderList, cloneOrder(order))
		}
	}
	sort.Slice(orderList, func(i, j int) bool {
		return orderList[i].CreatedAt.After(orderList[j].CreatedAt)
	})
	return orderList, nil
}

// Create adds a new order.
func (r *MockOrderRepository) Create(order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	order.CreatedAt = time.Now()
	order.UpdatedAt = time.Now()
	r.orders[order.ID] = cloneOrder(*order)
	return nil
}

// UpdateStatus updates the status of an order.
func (r *MockOrderRepository) UpdateStatus(id string, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("order with ID %s not found for status update", id)
	}
	order.Status = status
	order.UpdatedAt = time.Now()
	r.orders[id] = order
	return nil
}

// UpdatePaymentState sets the order status and payment status together.
func (r *MockOrderRepository) UpdatePaymentState(id string, status string, paymentStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("order with ID %s not found for payment state update", id)
	}
	order.Status = status
	order.PaymentStatus = paymentStatus
	order.UpdatedAt = time.Now()
	r.orders[id] = order
	return nil
}

// snapshot returns a copy of the current state, used by MockTxManager.
func (r *MockOrderRepository) snapshot() map[string]models.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	copied := make(map[string]models.Order, len(r.orders))
	for k, v := range r.orders {
		copied[k] = cloneOrder(v)
	}
	return copied
}

// restore replaces the current state, used by MockTxManager on rollback.
func (r *MockOrderRepository) restore(state map[string]models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = state
}
