package services

import (
	"errors"
	"log"

	"duka/internal/models"
	"duka/internal/mpesa"
	"duka/internal/repositories"
)

// Notifier dispatches customer-facing notifications. Dispatch is
// fire-and-forget: a failure is logged, never rolled back into the payment.
type Notifier interface {
	OrderConfirmed(order *models.Order, receipt string) error
	RefundRequired(order *models.Order, receipt string) error
}

// CallbackAck is the provider-facing acknowledgement returned for every
// callback delivery. ResultCode 0 tells the gateway to stop redelivering.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var (
	ackSuccess  = CallbackAck{ResultCode: 0, ResultDesc: "Success"}
	ackRejected = CallbackAck{ResultCode: 1, ResultDesc: "Payment not found"}
	ackInvalid  = CallbackAck{ResultCode: 1, ResultDesc: "Invalid callback payload"}
	ackError    = CallbackAck{ResultCode: 1, ResultDesc: "Error processing callback"}
)

// CallbackService reconciles asynchronous gateway notifications against
// their pending payment records. Application is idempotent: a payment
// transitions out of pending exactly once, and a redelivered callback for a
// terminal payment is acknowledged without reapplying any effect.
type CallbackService struct {
	tx       repositories.TxManager
	notifier Notifier
}

// NewCallbackService creates a new CallbackService.
func NewCallbackService(tx repositories.TxManager, notifier Notifier) *CallbackService {
	return &CallbackService{
		tx:       tx,
		notifier: notifier,
	}
}

// ApplyCallback parses a raw gateway notification and applies it. It always
// returns an acknowledgement for the gateway; reconciliation failures are
// logged, never raised, so a bad delivery cannot take the webhook down.
func (s *CallbackService) ApplyCallback(raw []byte) CallbackAck {
	cb, err := mpesa.ParseCallback(raw)
	if err != nil {
		log.Printf("Rejected callback: %v", err)
		return ackInvalid
	}

	var (
		confirmedOrder *models.Order
		oversoldOrder  *models.Order
		receipt        string
	)

	err = s.tx.InTransaction(func(r repositories.TxRepos) error {
		payment, err := r.Payments().LockByCheckoutRequestID(cb.CheckoutRequestID)
		if err != nil {
			return ErrPaymentNotFound
		}

		// Idempotency guard: a redelivered or racing callback finds the
		// payment already terminal and must not reapply effects.
		if payment.Terminal() {
			return ErrDuplicateCallback
		}

		resultCode := cb.ResultCode
		payment.ResultCode = &resultCode
		payment.ResultDesc = cb.ResultDesc

		order, err := r.Orders().GetByID(payment.OrderID)
		if err != nil {
			return err
		}

		if !cb.Succeeded() {
			payment.Status = models.PaymentStatusFailed
			if err := r.Payments().Update(payment); err != nil {
				return err
			}
			// The order status is left alone: the user may retry payment on
			// the same order or an admin may cancel it.
			return r.Orders().UpdatePaymentState(order.ID, order.Status, models.OrderPaymentFailed)
		}

		payment.Status = models.PaymentStatusCompleted
		payment.ReceiptNumber = cb.ReceiptNumber
		payment.TransactionDate = cb.TransactionDate
		if err := r.Payments().Update(payment); err != nil {
			return err
		}
		receipt = payment.ReceiptNumber

		ledger := NewInventoryLedger(r.Products())
		if err := ledger.CommitDecrement(order.Items); err != nil {
			if errors.Is(err, ErrOversellConflict) {
				// The charge went through but the stock is gone. Record the
				// completed payment, park the order for refund and tell the
				// operator instead of overselling.
				log.Printf("Oversell on order %s (checkout request %s): %v", order.ID, cb.CheckoutRequestID, err)
				if err := r.Orders().UpdatePaymentState(order.ID, models.OrderStatusPaymentFailed, models.OrderPaymentFailed); err != nil {
					return err
				}
				oversoldOrder = order
				return nil
			}
			return err
		}

		if err := r.Orders().UpdatePaymentState(order.ID, models.OrderStatusProcessing, models.OrderPaymentPaid); err != nil {
			return err
		}
		confirmedOrder = order
		return nil
	})

	switch {
	case err == nil:
		// Notifications go out only after the transaction committed.
		if confirmedOrder != nil {
			if nerr := s.notifier.OrderConfirmed(confirmedOrder, receipt); nerr != nil {
				log.Printf("Warning: failed to dispatch order confirmation for order %s: %v", confirmedOrder.ID, nerr)
			}
		}
		if oversoldOrder != nil {
			if nerr := s.notifier.RefundRequired(oversoldOrder, receipt); nerr != nil {
				log.Printf("Warning: failed to dispatch refund notice for order %s: %v", oversoldOrder.ID, nerr)
			}
		}
		return ackSuccess
	case errors.Is(err, ErrDuplicateCallback):
		// Already applied; acknowledge so the gateway stops redelivering.
		return ackSuccess
	case errors.Is(err, ErrPaymentNotFound):
		log.Printf("Callback for unknown checkout request ID %s", cb.CheckoutRequestID)
		return ackRejected
	default:
		log.Printf("Error processing callback for checkout request ID %s: %v", cb.CheckoutRequestID, err)
		return ackError
	}
}
