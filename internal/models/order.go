package models

import "time"

// Order statuses. Pre-fulfillment transitions belong to the payment flow;
// post-fulfillment transitions belong to admin operations. The two must
// never touch the same order concurrently.
const (
	OrderStatusAwaitingPayment = "awaiting_payment"
	OrderStatusProcessing      = "processing"
	OrderStatusShipped         = "shipped"
	OrderStatusDelivered       = "delivered"
	OrderStatusCancelled       = "cancelled"
	OrderStatusPaymentFailed   = "payment_failed"
)

// Order payment statuses.
const (
	OrderPaymentPending = "pending"
	OrderPaymentPaid    = "paid"
	OrderPaymentFailed  = "failed"
)

// OrderItem is a single line item within an order. Quantity and unit price
// are snapshotted at checkout time and never re-read from the live catalog.
type OrderItem struct {
	ID        uint    `json:"-" gorm:"primaryKey;autoIncrement"`
	OrderID   string  `json:"-" gorm:"index;type:varchar(36)"`
	ProductID string  `json:"product_id" gorm:"type:varchar(36)"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"` // Unit price at the time of order
}

// Order represents a customer order. TotalAmount is computed once from the
// cart snapshot and is immutable after creation.
type Order struct {
	ID            string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID        string      `json:"user_id" gorm:"index;type:varchar(36)"`
	Items         []OrderItem `json:"items" gorm:"foreignKey:OrderID"`
	TotalAmount   float64     `json:"total_amount"`
	Phone         string      `json:"phone" gorm:"type:varchar(20)"`
	Status        string      `json:"status" gorm:"type:varchar(32)"`
	PaymentStatus string      `json:"payment_status" gorm:"type:varchar(16)"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
