package rabbitmq

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/streadway/amqp"

	"duka/internal/models"
)

// notificationQueue carries customer-facing notification events. A worker
// (here a logging consumer; in production an email/SMS sender) drains it.
const notificationQueue = "notification_queue"

// Client holds the RabbitMQ connection and channel.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Config holds RabbitMQ connection details.
type Config struct {
	URL string
}

// NewClient creates a new RabbitMQ client. It connects to RabbitMQ, sets up
// a channel and declares the notification queue.
func NewClient(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close() // Close connection if channel creation fails
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		notificationQueue, // name
		true,              // durable (persists messages across broker restarts)
		false,             // delete when unused
		false,             // exclusive
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare %s: %w", notificationQueue, err)
	}

	log.Println("RabbitMQ client connected and notification queue declared.")

	return &Client{
		conn:    conn,
		channel: ch,
	}, nil
}

// Close closes the RabbitMQ connection and channel.
func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred during RabbitMQ client close: %v", errs)
	}
	return nil
}

// notificationEvent is the wire shape of a queued notification.
type notificationEvent struct {
	Event         string             `json:"event"`
	OrderID       string             `json:"order_id"`
	UserID        string             `json:"user_id"`
	TotalAmount   float64            `json:"total_amount"`
	ReceiptNumber string             `json:"receipt_number,omitempty"`
	Items         []models.OrderItem `json:"items"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

func (c *Client) publish(event notificationEvent) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}

	err = c.channel.Publish(
		"",                // exchange: default exchange
		notificationQueue, // routing key: the queue name
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent, // Make message persistent
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	log.Printf(" [x] Sent %s event for order %s", event.Event, event.OrderID)
	return nil
}

// OrderConfirmed queues an order-confirmation notification for a paid order.
func (c *Client) OrderConfirmed(order *models.Order, receipt string) error {
	return c.publish(notificationEvent{
		Event:         "order.confirmed",
		OrderID:       order.ID,
		UserID:        order.UserID,
		TotalAmount:   order.TotalAmount,
		ReceiptNumber: receipt,
		Items:         order.Items,
		OccurredAt:    time.Now(),
	})
}

// RefundRequired queues an operator notification for a charge that
// succeeded after its stock was gone.
func (c *Client) RefundRequired(order *models.Order, receipt string) error {
	return c.publish(notificationEvent{
		Event:         "order.refund_required",
		OrderID:       order.ID,
		UserID:        order.UserID,
		TotalAmount:   order.TotalAmount,
		ReceiptNumber: receipt,
		Items:         order.Items,
		OccurredAt:    time.Now(),
	})
}

// ConsumeNotifications starts a goroutine that drains the notification
// queue through the given handler. Messages are acked on success and
// requeued on handler error.
func (c *Client) ConsumeNotifications(messageHandler func(msg amqp.Delivery) error) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available for consumption")
	}

	queue, err := c.channel.QueueDeclare(
		notificationQueue, // name
		true,              // durable
		false,             // delete when unused
		false,             // exclusive
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue for consuming: %w", err)
	}

	msgs, err := c.channel.Consume(
		queue.Name, // queue
		"",         // consumer tag
		false,      // auto-ack: set to false to manually acknowledge messages
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for msg := range msgs {
			if err := messageHandler(msg); err != nil {
				log.Printf("Error processing notification %d: %v", msg.DeliveryTag, err)
				if requeueErr := msg.Nack(false, true); requeueErr != nil {
					log.Printf("Error nacking message %d: %v", msg.DeliveryTag, requeueErr)
				}
			} else {
				if ackErr := msg.Ack(false); ackErr != nil {
					log.Printf("Error acking message %d: %v", msg.DeliveryTag, ackErr)
				}
			}
		}
	}()

	return nil
}
