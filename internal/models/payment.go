package models

import "time"

// Payment statuses. A payment is created pending and transitions exactly
// once to completed or failed when its callback is reconciled. A pending
// payment whose callback never arrives stays pending.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// Payment is one charge attempt against an order. An order may accumulate
// several payments across retries, but at most one may be pending at a time.
// CheckoutRequestID is the gateway's correlation id and the sole key used to
// reconcile inbound callbacks.
type Payment struct {
	ID                string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID           string     `json:"order_id" gorm:"index;type:varchar(36)"`
	MerchantRequestID string     `json:"merchant_request_id" gorm:"type:varchar(100)"`
	CheckoutRequestID string     `json:"checkout_request_id" gorm:"uniqueIndex;type:varchar(100)"`
	Phone             string     `json:"phone" gorm:"type:varchar(20)"`
	Amount            float64    `json:"amount"`
	Status            string     `json:"status" gorm:"type:varchar(16)"`
	ResultCode        *int       `json:"result_code"`
	ResultDesc        string     `json:"result_desc"`
	ReceiptNumber     string     `json:"receipt_number" gorm:"type:varchar(50)"`
	TransactionDate   *time.Time `json:"transaction_date"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Terminal reports whether the payment has reached a final state and must
// not be mutated again.
func (p *Payment) Terminal() bool {
	return p.Status == PaymentStatusCompleted || p.Status == PaymentStatusFailed
}
