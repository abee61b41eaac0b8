package repositories

import (
	"fmt"

	"duka/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GORMPaymentRepository is a GORM implementation of PaymentRepository.
type GORMPaymentRepository struct {
	db *gorm.DB
}

// NewGORMPaymentRepository creates a new instance of GORMPaymentRepository.
func NewGORMPaymentRepository(db *gorm.DB) *GORMPaymentRepository {
	return &GORMPaymentRepository{
		db: db,
	}
}

// Create persists a new payment record.
func (r *GORMPaymentRepository) Create(payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	if err := r.db.Create(payment).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByCheckoutRequestID looks a payment up by its gateway correlation id.
func (r *GORMPaymentRepository) GetByCheckoutRequestID(id string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.First(&payment, "checkout_request_id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("payment with checkout request ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to get payment by checkout request ID %s: %w", id, err)
	}
	return &payment, nil
}

// LockByCheckoutRequestID is GetByCheckoutRequestID with a SELECT ... FOR
// UPDATE row lock. Concurrent callbacks for the same checkout request id
// block here until the winner commits.
func (r *GORMPaymentRepository) LockByCheckoutRequestID(id string) (*models.Payment, error) {
	q := r.db
	// SQLite has no FOR UPDATE; it serializes writing transactions itself.
	if r.db.Dialector.Name() != "sqlite" {
		q = r.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var payment models.Payment
	err := q.First(&payment, "checkout_request_id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("payment with checkout request ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to lock payment by checkout request ID %s: %w", id, err)
	}
	return &payment, nil
}

// GetLatestByOrderID returns the most recent payment attempt for an order.
func (r *GORMPaymentRepository) GetLatestByOrderID(orderID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("order_id = ?", orderID).Order("created_at DESC").First(&payment).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("no payment found for order %s", orderID)
		}
		return nil, fmt.Errorf("failed to get latest payment for order %s: %w", orderID, err)
	}
	return &payment, nil
}

// HasPendingForOrder reports whether the order already has a payment awaiting
// its callback.
func (r *GORMPaymentRepository) HasPendingForOrder(orderID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, models.PaymentStatusPending).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count pending payments for order %s: %w", orderID, err)
	}
	return count > 0, nil
}

// Update persists changes to an existing payment.
func (r *GORMPaymentRepository) Update(payment *models.Payment) error {
	res := r.db.Save(payment)
	if res.Error != nil {
		return fmt.Errorf("failed to update payment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("payment with ID %s not found for update", payment.ID)
	}
	return nil
}
