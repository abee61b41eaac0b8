package repositories

import (
	"fmt"
	"sync"
	"time"

	"duka/internal/models"

	"github.com/google/uuid"
)

// MockPaymentRepository is an in-memory implementation of PaymentRepository.
type MockPaymentRepository struct {
	payments map[string]models.Payment // keyed by payment ID
	mu       sync.RWMutex
}

// NewMockPaymentRepository creates a new instance of MockPaymentRepository.
func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{
		payments: make(map[string]models.Payment),
	}
}

// Create adds a new payment. CheckoutRequestID must be unique.
func (r *MockPaymentRepository) Create(payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	for _, p := range r.payments {
		if p.CheckoutRequestID == payment.CheckoutRequestID {
			return fmt.Errorf("payment with checkout request ID %s already exists", payment.CheckoutRequestID)
		}
	}
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = time.Now()
	r.payments[payment.ID] = *payment
	return nil
}

// GetByCheckoutRequestID looks a payment up by its gateway correlation id.
func (r *MockPaymentRepository) GetByCheckoutRequestID(id string) (*models.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.payments {
		if p.CheckoutRequestID == id {
			payment := p
			return &payment, nil
		}
	}
	return nil, fmt.Errorf("payment with checkout request ID %s not found", id)
}

// LockByCheckoutRequestID is GetByCheckoutRequestID for the mock; callers
// are serialized by MockTxManager's transaction mutex instead of a row lock.
func (r *MockPaymentRepository) LockByCheckoutRequestID(id string) (*models.Payment, error) {
	return r.GetByCheckoutRequestID(id)
}

// GetLatestByOrderID returns the most recent payment attempt for an order.
func (r *MockPaymentRepository) GetLatestByOrderID(orderID string) (*models.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *models.Payment
	for _, p := range r.payments {
		if p.OrderID != orderID {
			continue
		}
		p := p
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = &p
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no payment found for order %s", orderID)
	}
	return latest, nil
}

// HasPendingForOrder reports whether the order has a payment awaiting its
// callback.
func (r *MockPaymentRepository) HasPendingForOrder(orderID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.payments {
		if p.OrderID == orderID && p.Status == models.PaymentStatusPending {
			return true, nil
		}
	}
	return false, nil
}

// Update modifies an existing payment.
func (r *MockPaymentRepository) Update(payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.payments[payment.ID]
	if !ok {
		return fmt.Errorf("payment with ID %s not found for update", payment.ID)
	}
	payment.UpdatedAt = time.Now()
	r.payments[payment.ID] = *payment
	return nil
}

// snapshot returns a copy of the current state, used by MockTxManager.
func (r *MockPaymentRepository) snapshot() map[string]models.Payment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	copied := make(map[string]models.Payment, len(r.payments))
	for k, v := range r.payments {
		copied[k] = v
	}
	return copied
}

// restore replaces the current state, used by MockTxManager on rollback.
func (r *MockPaymentRepository) restore(state map[string]models.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments = state
}
