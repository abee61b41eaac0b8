package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"duka/internal/models"
	"duka/internal/mpesa"
	"duka/internal/repositories"

	"github.com/google/uuid"
)

// Gateway is the slice of the mobile-money client the orchestrator needs.
type Gateway interface {
	RequestCharge(ctx context.Context, phone string, amount int64, reference, description string) (*mpesa.ChargeAccepted, error)
}

// PaymentService drives the checkout-to-charge state machine: it snapshots
// the cart, requests a charge from the gateway and persists the order with
// its pending payment only once the gateway has acknowledged. Checkout is
// atomic: a rejected or unreachable gateway leaves nothing behind.
type PaymentService struct {
	gateway  Gateway
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	payments repositories.PaymentRepository
	tx       repositories.TxManager
	ledger   *InventoryLedger
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(gateway Gateway, orders repositories.OrderRepository, products repositories.ProductRepository, payments repositories.PaymentRepository, tx repositories.TxManager) *PaymentService {
	return &PaymentService{
		gateway:  gateway,
		orders:   orders,
		products: products,
		payments: payments,
		tx:       tx,
		ledger:   NewInventoryLedger(products),
	}
}

// CheckoutItem is a single cart line submitted at checkout.
type CheckoutItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// CheckoutInput is the cart snapshot handed to the orchestrator.
type CheckoutInput struct {
	UserID string         `json:"-"`
	Phone  string         `json:"phone" validate:"required,min=9,max=15"`
	Items  []CheckoutItem `json:"items" validate:"required,min=1,dive"`
}

// CheckoutResult is returned to the caller so the UI can poll while waiting
// for the asynchronous callback.
type CheckoutResult struct {
	Order           *models.Order   `json:"order"`
	Payment         *models.Payment `json:"payment"`
	CustomerMessage string          `json:"customer_message"`
}

// Checkout validates the cart, requests a mobile-money charge and, on
// gateway acceptance, persists the order (awaiting_payment) together with
// its pending payment record in one transaction. Any failure before that
// point leaves no order and no payment behind.
func (s *PaymentService) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	msisdn, err := mpesa.NormalizePhone(input.Phone)
	if err != nil {
		return nil, err
	}

	// Snapshot line items with the price at the time of order.
	var totalAmount float64
	items := make([]models.OrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		product, err := s.products.GetByID(item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("product %s not found: %w", item.ProductID, err)
		}
		items = append(items, models.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     product.Price,
		})
		totalAmount += product.Price * float64(item.Quantity)
	}

	// Advisory only: stock is committed at callback time, so it can still be
	// taken by a competing order before this one is paid.
	if err := s.ledger.ReserveCheck(items); err != nil {
		return nil, err
	}

	orderID := uuid.New().String()
	order := &models.Order{
		ID:            orderID,
		UserID:        input.UserID,
		Items:         items,
		TotalAmount:   totalAmount,
		Phone:         msisdn,
		Status:        models.OrderStatusAwaitingPayment,
		PaymentStatus: models.OrderPaymentPending,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	payment, message, err := s.requestCharge(ctx, order, msisdn)
	if err != nil {
		return nil, err
	}

	err = s.tx.InTransaction(func(r repositories.TxRepos) error {
		if err := r.Orders().Create(order); err != nil {
			return err
		}
		return r.Payments().Create(payment)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist order and payment: %w", err)
	}

	return &CheckoutResult{Order: order, Payment: payment, CustomerMessage: message}, nil
}

// RetryPayment starts a new charge attempt for an existing order whose
// earlier attempt failed. The order keeps its original snapshot and total;
// only one attempt may be pending at a time.
func (s *PaymentService) RetryPayment(ctx context.Context, orderID, userID, phone string) (*CheckoutResult, error) {
	order, err := s.orders.GetByID(orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrNotOrderOwner
	}
	if order.Status != models.OrderStatusAwaitingPayment && order.Status != models.OrderStatusPaymentFailed {
		return nil, ErrOrderNotPayable
	}

	pending, err := s.payments.HasPendingForOrder(orderID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrPaymentPending
	}

	if phone == "" {
		phone = order.Phone
	}
	msisdn, err := mpesa.NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	payment, message, err := s.requestCharge(ctx, order, msisdn)
	if err != nil {
		return nil, err
	}

	err = s.tx.InTransaction(func(r repositories.TxRepos) error {
		// Re-check under the transaction: a concurrent retry may have won the
		// race since the advisory check above.
		pending, err := r.Payments().HasPendingForOrder(order.ID)
		if err != nil {
			return err
		}
		if pending {
			return ErrPaymentPending
		}
		if err := r.Payments().Create(payment); err != nil {
			return err
		}
		return r.Orders().UpdatePaymentState(order.ID, models.OrderStatusAwaitingPayment, models.OrderPaymentPending)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist payment attempt: %w", err)
	}

	order.Status = models.OrderStatusAwaitingPayment
	order.PaymentStatus = models.OrderPaymentPending
	return &CheckoutResult{Order: order, Payment: payment, CustomerMessage: message}, nil
}

// requestCharge submits the STK push for an order and builds the pending
// payment record from the gateway's acknowledgement. Nothing is persisted
// here.
func (s *PaymentService) requestCharge(ctx context.Context, order *models.Order, msisdn string) (*models.Payment, string, error) {
	// The gateway takes whole currency units only; fractional totals are
	// rounded here, at the orchestrator boundary.
	amount := int64(math.Round(order.TotalAmount))
	if amount < 1 {
		return nil, "", fmt.Errorf("order total %.2f is below the minimum chargeable amount", order.TotalAmount)
	}

	// Generated order ids are uuids and get truncated for the on-phone
	// reference; shorter caller-supplied ids are used whole.
	refID := order.ID
	if len(refID) > 8 {
		refID = refID[:8]
	}
	reference := fmt.Sprintf("ORDER-%s", refID)
	description := fmt.Sprintf("Duka order %s", reference)

	accepted, err := s.gateway.RequestCharge(ctx, msisdn, amount, reference, description)
	if err != nil {
		return nil, "", err
	}

	payment := &models.Payment{
		ID:                uuid.New().String(),
		OrderID:           order.ID,
		MerchantRequestID: accepted.MerchantRequestID,
		CheckoutRequestID: accepted.CheckoutRequestID,
		Phone:             msisdn,
		Amount:            float64(amount),
		Status:            models.PaymentStatusPending,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	return payment, accepted.CustomerMessage, nil
}

// PaymentStatus reports the latest payment attempt and order state for the
// storefront's polling UI.
type PaymentStatus struct {
	OrderStatus   string `json:"order_status"`
	PaymentStatus string `json:"payment_status"`
	ReceiptNumber string `json:"receipt_number,omitempty"`
}

// Status returns the current payment and order state for an order owned by
// the given user.
func (s *PaymentService) Status(orderID, userID string) (*PaymentStatus, error) {
	order, err := s.orders.GetByID(orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrNotOrderOwner
	}

	status := &PaymentStatus{
		OrderStatus:   order.Status,
		PaymentStatus: order.PaymentStatus,
	}
	if payment, err := s.payments.GetLatestByOrderID(orderID); err == nil {
		status.ReceiptNumber = payment.ReceiptNumber
	}
	return status, nil
}
