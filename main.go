package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/streadway/amqp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"duka/internal/config"
	"duka/internal/handlers"
	"duka/internal/middleware"
	"duka/internal/models"
	"duka/internal/mpesa"
	"duka/internal/repositories"
	"duka/internal/services"
	"duka/pkg/rabbitmq"
)

func main() {
	// --- Configuration ---
	cfg := config.Load()

	// --- Database ---
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Product{},
		&models.Order{},
		&models.OrderItem{},
		&models.Payment{},
	); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// --- RabbitMQ Client (notification dispatch) ---
	mqClient, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL})
	if err != nil {
		log.Fatalf("Failed to initialize RabbitMQ client: %v", err)
	}
	defer mqClient.Close() // Ensure the connection is closed on exit

	// --- Payment Gateway Client ---
	gateway := mpesa.NewClient(cfg.Mpesa)

	// --- Repositories ---
	productRepo := repositories.NewGORMProductRepository(db)
	orderRepo := repositories.NewGORMOrderRepository(db)
	paymentRepo := repositories.NewGORMPaymentRepository(db)
	userRepo := repositories.NewGORMUserRepository(db)
	txManager := repositories.NewGORMTxManager(db)

	// --- Services ---
	authService := services.NewAuthService(userRepo, cfg.JWTSecret)
	productService := services.NewProductService(productRepo)
	orderService := services.NewOrderService(orderRepo, txManager)
	paymentService := services.NewPaymentService(gateway, orderRepo, productRepo, paymentRepo, txManager)
	callbackService := services.NewCallbackService(txManager, mqClient)

	// --- Handlers ---
	authHandler := handlers.NewAuthHandler(authService)
	productHandler := handlers.NewProductHandler(productService)
	orderHandler := handlers.NewOrderHandler(orderService, paymentService)
	paymentHandler := handlers.NewPaymentHandler(callbackService, paymentService)

	// --- Initialize Fiber App ---
	app := fiber.New()

	// --- Middleware ---
	app.Use(logger.New()) // Request logger

	// --- API Routes ---
	apiV1 := app.Group("/api/v1")

	// Public routes: registration/login and the gateway webhook. The
	// gateway cannot carry our auth tokens, so the callback stays open.
	authHandler.RegisterRoutes(apiV1)
	paymentHandler.RegisterWebhookRoutes(apiV1)

	// Authenticated routes
	protected := apiV1.Group("", middleware.AuthRequired(authService))
	productHandler.RegisterRoutes(protected)
	orderHandler.RegisterRoutes(protected)
	paymentHandler.RegisterRoutes(protected)

	// --- Health Check Endpoint ---
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// --- Start Notification Consumer ---
	// Stand-in for the email/SMS worker; logs and acks each notification.
	go func() {
		log.Println("Starting RabbitMQ consumer for notifications...")
		messageHandler := func(msg amqp.Delivery) error {
			log.Printf("Notification event (Tag: %d): %s", msg.DeliveryTag, string(msg.Body))
			return nil // Return nil to acknowledge
		}
		if consumerErr := mqClient.ConsumeNotifications(messageHandler); consumerErr != nil {
			log.Printf("Failed to start RabbitMQ consumer: %v", consumerErr)
		}
	}()

	// --- Start HTTP Server ---
	log.Printf("Starting server on port %s", cfg.AppPort)

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(cfg.AppPort); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Printf("Error during Fiber shutdown: %v", err)
	}

	log.Println("Server gracefully stopped")
}
