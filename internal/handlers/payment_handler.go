package handlers

import (
	"errors"
	"log"
	"strings"

	"duka/internal/services"

	"github.com/gofiber/fiber/v2"
)

// PaymentHandler handles the gateway-facing webhook and the storefront's
// payment status poll.
type PaymentHandler struct {
	callbackService *services.CallbackService
	paymentService  *services.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(callbackService *services.CallbackService, paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		callbackService: callbackService,
		paymentService:  paymentService,
	}
}

// RegisterWebhookRoutes registers the unauthenticated provider-facing
// routes. The gateway cannot carry our auth tokens.
func (h *PaymentHandler) RegisterWebhookRoutes(router fiber.Router) {
	router.Post("/payments/mpesa/callback", h.HandleMpesaCallback)
}

// RegisterRoutes registers the authenticated payment routes.
func (h *PaymentHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/orders/:id/payment", h.HandlePaymentStatus)
}

// HandleMpesaCallback receives the asynchronous payment notification. It
// always answers HTTP 200 with the provider's acknowledgement shape; a
// non-zero ResultCode in the body tells the gateway the notification could
// not be matched.
func (h *PaymentHandler) HandleMpesaCallback(c *fiber.Ctx) error {
	ack := h.callbackService.ApplyCallback(c.Body())
	return c.Status(fiber.StatusOK).JSON(ack)
}

// HandlePaymentStatus reports the current payment and order state for the
// polling UI.
func (h *PaymentHandler) HandlePaymentStatus(c *fiber.Ctx) error {
	orderID := c.Params("id")
	userID, _ := c.Locals("user_id").(string)

	status, err := h.paymentService.Status(orderID, userID)
	if err != nil {
		if errors.Is(err, services.ErrNotOrderOwner) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"message": "You do not have access to this order",
			})
		}
		if strings.Contains(err.Error(), "not found") {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": "Order not found",
			})
		}
		log.Printf("Error getting payment status for order %s: %v", orderID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not retrieve payment status",
			"error":   err.Error(),
		})
	}
	return c.JSON(status)
}
