package handlers

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"duka/internal/middleware"
	"duka/internal/mpesa"
	"duka/internal/repositories"
	"duka/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// OrderHandler handles HTTP requests for orders and checkout.
type OrderHandler struct {
	orderService   *services.OrderService
	paymentService *services.PaymentService
	validate       *validator.Validate
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderService *services.OrderService, paymentService *services.PaymentService) *OrderHandler {
	return &OrderHandler{
		orderService:   orderService,
		paymentService: paymentService,
		validate:       validator.New(),
	}
}

// RegisterRoutes registers the order routes with the Fiber app.
func (h *OrderHandler) RegisterRoutes(router fiber.Router) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Get("/", h.HandleGetOrders)
	orderRoutes.Get("/:id", h.HandleGetOrderByID)
	orderRoutes.Post("/checkout", h.HandleCheckout)
	orderRoutes.Post("/:id/retry-payment", h.HandleRetryPayment)
	orderRoutes.Patch("/:id/status", middleware.AdminRequired(), h.HandleUpdateOrderStatus)
}

func currentUserID(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok {
		return id
	}
	return ""
}

// HandleGetOrders retrieves the authenticated user's orders.
func (h *OrderHandler) HandleGetOrders(c *fiber.Ctx) error {
	orders, err := h.orderService.GetOrdersByUser(currentUserID(c))
	if err != nil {
		log.Printf("Error getting orders: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not retrieve orders",
			"error":   err.Error(),
		})
	}
	return c.JSON(orders)
}

// HandleGetOrderByID retrieves a single order by its ID. Only the owner or
// an admin may read it.
func (h *OrderHandler) HandleGetOrderByID(c *fiber.Ctx) error {
	orderID := c.Params("id")
	order, err := h.orderService.GetOrderByID(orderID)
	if err != nil {
		log.Printf("Error getting order by ID %s: %v", orderID, err)
		if strings.Contains(err.Error(), "not found") {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": fmt.Sprintf("Order with ID %s not found", orderID),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not retrieve order",
			"error":   err.Error(),
		})
	}

	isAdmin, _ := c.Locals("is_admin").(bool)
	if order.UserID != currentUserID(c) && !isAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "You do not have access to this order",
		})
	}
	return c.JSON(order)
}

// HandleCheckout submits a cart snapshot for payment. On success the order
// and its pending payment were created atomically and the customer has been
// prompted on their phone; on any failure nothing was created.
func (h *OrderHandler) HandleCheckout(c *fiber.Ctx) error {
	var input services.CheckoutInput
	if err := c.BodyParser(&input); err != nil {
		log.Printf("Error parsing checkout request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	input.UserID = currentUserID(c)

	if err := h.validate.Struct(input); err != nil {
		validationErrors := err.(validator.ValidationErrors)
		errorMessages := make(map[string]string)
		for _, e := range validationErrors {
			errorMessages[e.Field()] = fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag())
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"errors":  errorMessages,
		})
	}

	result, err := h.paymentService.Checkout(c.Context(), input)
	if err != nil {
		return h.paymentError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": result.CustomerMessage,
		"order":   result.Order,
		"payment": result.Payment,
	})
}

// RetryPaymentRequest is the request body for retrying payment on an order.
type RetryPaymentRequest struct {
	Phone string `json:"phone"`
}

// HandleRetryPayment starts a new charge attempt for a failed order.
func (h *OrderHandler) HandleRetryPayment(c *fiber.Ctx) error {
	var req RetryPaymentRequest
	// The body is optional; when no phone is given the order's original
	// phone is reused.
	_ = c.BodyParser(&req)

	result, err := h.paymentService.RetryPayment(c.Context(), c.Params("id"), currentUserID(c), req.Phone)
	if err != nil {
		return h.paymentError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": result.CustomerMessage,
		"order":   result.Order,
		"payment": result.Payment,
	})
}

// HandleUpdateOrderStatus applies an admin status transition to an order.
func (h *OrderHandler) HandleUpdateOrderStatus(c *fiber.Ctx) error {
	orderID := c.Params("id")
	var updateData struct {
		Status string `json:"status"`
	}

	if err := c.BodyParser(&updateData); err != nil {
		log.Printf("Error parsing request body for status update: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body for status update",
			"error":   err.Error(),
		})
	}

	if updateData.Status == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Status is required for order status update.",
		})
	}

	if err := h.orderService.UpdateOrderStatus(orderID, updateData.Status); err != nil {
		log.Printf("Error updating order status for order %s: %v", orderID, err)
		if errors.Is(err, services.ErrInvalidTransition) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"message": fmt.Sprintf("Order update failed: %v", err.Error()),
			})
		}
		if strings.Contains(err.Error(), "not found") {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": fmt.Sprintf("Order with ID %s not found", orderID),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not update order status",
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Order %s status updated successfully to %s", orderID, updateData.Status),
	})
}

// paymentError maps the payment flow's error taxonomy onto HTTP responses
// with user-actionable messages.
func (h *OrderHandler) paymentError(c *fiber.Ctx, err error) error {
	var rejected *mpesa.ChargeRejectedError
	var gateway *mpesa.GatewayError
	var auth *mpesa.AuthError

	switch {
	case errors.Is(err, mpesa.ErrInvalidPhoneFormat):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid phone number. Please use a format like 0712345678 or 254712345678.",
		})
	case errors.Is(err, repositories.ErrInsufficientStock):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Some items in your cart are no longer available in the requested quantity.",
			"error":   err.Error(),
		})
	case errors.Is(err, services.ErrPaymentPending):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"message": "A payment request for this order is already awaiting confirmation on your phone.",
		})
	case errors.Is(err, services.ErrNotOrderOwner):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "You do not have access to this order",
		})
	case errors.Is(err, services.ErrOrderNotPayable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"message": "This order can no longer be paid for.",
		})
	case errors.As(err, &rejected):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": fmt.Sprintf("Payment request was declined: %s", rejected.Reason),
		})
	case errors.As(err, &gateway), errors.As(err, &auth):
		log.Printf("Payment gateway failure: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"message": "The payment service is temporarily unavailable. Please try again.",
		})
	case strings.Contains(err.Error(), "not found"):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": err.Error(),
		})
	default:
		log.Printf("Payment flow error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not process payment",
			"error":   err.Error(),
		})
	}
}
