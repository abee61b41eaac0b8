package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"duka/internal/handlers"
	"duka/internal/middleware"
	"duka/internal/models"
	"duka/internal/mpesa"
	"duka/internal/repositories"
	"duka/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubGateway accepts every charge without talking to the real payment
// provider. Each call gets a distinct CheckoutRequestID so callbacks can be
// correlated the same way they are in production.
type stubGateway struct {
	mu    sync.Mutex
	calls int
	last  struct {
		Phone     string
		Amount    int64
		Reference string
	}
}

func (g *stubGateway) RequestCharge(_ context.Context, phone string, amount int64, reference, description string) (*mpesa.ChargeAccepted, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.last.Phone = phone
	g.last.Amount = amount
	g.last.Reference = reference
	return &mpesa.ChargeAccepted{
		MerchantRequestID: fmt.Sprintf("merch-%d", g.calls),
		CheckoutRequestID: fmt.Sprintf("ws_CO_test_%d", g.calls),
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

// recordingNotifier captures notification dispatches instead of publishing
// them to RabbitMQ.
type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []string
	refunds   []string
}

func (n *recordingNotifier) OrderConfirmed(order *models.Order, receipt string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, order.ID)
	return nil
}

func (n *recordingNotifier) RefundRequired(order *models.Order, receipt string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refunds = append(n.refunds, order.ID)
	return nil
}

type testEnv struct {
	app      *fiber.App
	db       *gorm.DB
	gateway  *stubGateway
	notifier *recordingNotifier
	products repositories.ProductRepository
}

// setupTestEnv wires the full application against an in-memory SQLite
// database, mirroring the route layout in main.go.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Product{},
		&models.Order{},
		&models.OrderItem{},
		&models.Payment{},
	))

	productRepo := repositories.NewGORMProductRepository(db)
	orderRepo := repositories.NewGORMOrderRepository(db)
	paymentRepo := repositories.NewGORMPaymentRepository(db)
	userRepo := repositories.NewGORMUserRepository(db)
	txManager := repositories.NewGORMTxManager(db)

	gateway := &stubGateway{}
	notifier := &recordingNotifier{}

	authService := services.NewAuthService(userRepo, "test_jwt_secret")
	productService := services.NewProductService(productRepo)
	orderService := services.NewOrderService(orderRepo, txManager)
	paymentService := services.NewPaymentService(gateway, orderRepo, productRepo, paymentRepo, txManager)
	callbackService := services.NewCallbackService(txManager, notifier)

	authHandler := handlers.NewAuthHandler(authService)
	productHandler := handlers.NewProductHandler(productService)
	orderHandler := handlers.NewOrderHandler(orderService, paymentService)
	paymentHandler := handlers.NewPaymentHandler(callbackService, paymentService)

	app := fiber.New()
	apiV1 := app.Group("/api/v1")
	authHandler.RegisterRoutes(apiV1)
	paymentHandler.RegisterWebhookRoutes(apiV1)

	protected := apiV1.Group("", middleware.AuthRequired(authService))
	productHandler.RegisterRoutes(protected)
	orderHandler.RegisterRoutes(protected)
	paymentHandler.RegisterRoutes(protected)

	return &testEnv{
		app:      app,
		db:       db,
		gateway:  gateway,
		notifier: notifier,
		products: productRepo,
	}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// registerAndLogin creates a user through the API and returns a valid token.
func (e *testEnv) registerAndLogin(t *testing.T, username string) string {
	t.Helper()

	resp, _ := e.request(t, http.MethodPost, "/api/v1/auth/register", "", fiber.Map{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
		"phone":    "0712345678",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := e.request(t, http.MethodPost, "/api/v1/auth/login", "", fiber.Map{
		"username": username,
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (e *testEnv) seedProduct(t *testing.T, name string, price float64, stock int) *models.Product {
	t.Helper()
	product := &models.Product{Name: name, Price: price, Stock: stock}
	require.NoError(t, e.products.Create(product))
	return product
}

func successCallback(checkoutRequestID, receipt string, amount float64) string {
	return fmt.Sprintf(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "merch-1",
				"CheckoutRequestID": "%s",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": %.2f},
						{"Name": "MpesaReceiptNumber", "Value": "%s"},
						{"Name": "TransactionDate", "Value": 20260829143022},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`, checkoutRequestID, amount, receipt)
}

func (e *testEnv) postCallback(t *testing.T, payload string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/mpesa/callback", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestCheckoutToPaidFlow(t *testing.T) {
	env := setupTestEnv(t)
	token := env.registerAndLogin(t, "wanjiku")
	product := env.seedProduct(t, "Moringa Powder", 150.0, 10)

	// Checkout: the order and its pending payment are created together and
	// the customer is prompted on their phone.
	resp, body := env.request(t, http.MethodPost, "/api/v1/orders/checkout", token, fiber.Map{
		"phone": "0712345678",
		"items": []fiber.Map{{"product_id": product.ID, "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	order := body["order"].(map[string]interface{})
	payment := body["payment"].(map[string]interface{})
	orderID := order["id"].(string)
	checkoutRequestID := payment["checkout_request_id"].(string)
	assert.Equal(t, models.OrderStatusAwaitingPayment, order["status"])
	assert.Equal(t, models.PaymentStatusPending, payment["status"])
	assert.Equal(t, "254712345678", env.gateway.last.Phone)
	assert.Equal(t, int64(300), env.gateway.last.Amount)

	// Stock is not touched until the payment confirms.
	current, err := env.products.GetByID(product.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, current.Stock)

	// Status poll while the customer has not yet entered their PIN.
	resp, body = env.request(t, http.MethodGet, "/api/v1/orders/"+orderID+"/payment", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.OrderPaymentPending, body["payment_status"])

	// Provider confirms the payment.
	code, ack := env.postCallback(t, successCallback(checkoutRequestID, "SBX61H3K2", 300))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), ack["ResultCode"])

	// The order is now paid, stock is committed, and the confirmation
	// notification went out.
	resp, body = env.request(t, http.MethodGet, "/api/v1/orders/"+orderID+"/payment", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.OrderStatusProcessing, body["order_status"])
	assert.Equal(t, models.OrderPaymentPaid, body["payment_status"])
	assert.Equal(t, "SBX61H3K2", body["receipt_number"])

	current, err = env.products.GetByID(product.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, current.Stock)
	assert.Equal(t, []string{orderID}, env.notifier.confirmed)

	// Redelivery of the same callback is acknowledged but changes nothing.
	code, ack = env.postCallback(t, successCallback(checkoutRequestID, "SBX61H3K2", 300))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), ack["ResultCode"])
	current, err = env.products.GetByID(product.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, current.Stock)
	assert.Len(t, env.notifier.confirmed, 1)
}

func TestCheckoutRejectsInvalidPhone(t *testing.T) {
	env := setupTestEnv(t)
	token := env.registerAndLogin(t, "otieno")
	product := env.seedProduct(t, "Cinnamon Sticks", 125.0, 5)

	resp, body := env.request(t, http.MethodPost, "/api/v1/orders/checkout", token, fiber.Map{
		"phone": "12345abcde",
		"items": []fiber.Map{{"product_id": product.ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["message"], "Invalid phone number")
	assert.Zero(t, env.gateway.calls)

	// No order was created for the rejected checkout.
	resp, _ = env.request(t, http.MethodGet, "/api/v1/orders/", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCallbackUnknownCheckoutRequestID(t *testing.T) {
	env := setupTestEnv(t)

	code, ack := env.postCallback(t, successCallback("ws_CO_never_issued", "SBX000000", 100))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), ack["ResultCode"])
}

func TestUserCancelledCallbackFailsPayment(t *testing.T) {
	env := setupTestEnv(t)
	token := env.registerAndLogin(t, "njeri")
	product := env.seedProduct(t, "Loose Leaf Tea", 99.5, 4)

	resp, body := env.request(t, http.MethodPost, "/api/v1/orders/checkout", token, fiber.Map{
		"phone": "254712345678",
		"items": []fiber.Map{{"product_id": product.ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := body["order"].(map[string]interface{})
	payment := body["payment"].(map[string]interface{})
	orderID := order["id"].(string)

	cancelled := fmt.Sprintf(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "merch-1",
				"CheckoutRequestID": "%s",
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user"
			}
		}
	}`, payment["checkout_request_id"].(string))

	code, ack := env.postCallback(t, cancelled)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), ack["ResultCode"])

	resp, body = env.request(t, http.MethodGet, "/api/v1/orders/"+orderID+"/payment", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.OrderPaymentFailed, body["payment_status"])

	// Stock never moved and no confirmation was sent.
	current, err := env.products.GetByID(product.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, current.Stock)
	assert.Empty(t, env.notifier.confirmed)

	// The customer can retry payment on the same order.
	resp, _ = env.request(t, http.MethodPost, "/api/v1/orders/"+orderID+"/retry-payment", token, fiber.Map{
		"phone": "0798765432",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "254798765432", env.gateway.last.Phone)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := setupTestEnv(t)

	resp, _ := env.request(t, http.MethodGet, "/api/v1/products/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.request(t, http.MethodPost, "/api/v1/orders/checkout", "", fiber.Map{
		"phone": "0712345678",
		"items": []fiber.Map{{"product_id": "p1", "quantity": 1}},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminStatusTransitionForbiddenForCustomers(t *testing.T) {
	env := setupTestEnv(t)
	token := env.registerAndLogin(t, "kamau")

	resp, _ := env.request(t, http.MethodPatch, "/api/v1/orders/some-order/status", token, fiber.Map{
		"status": models.OrderStatusShipped,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
