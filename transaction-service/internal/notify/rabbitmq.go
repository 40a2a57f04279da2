package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Br41n7/Securebank/shared/events"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the publishing half of an AMQP channel.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitNotifier publishes events to a topic exchange, routed by event type.
type RabbitNotifier struct {
	channel  Channel
	exchange string
	timeout  time.Duration
	close    func() error
}

func NewRabbitNotifier(channel Channel, exchange string) *RabbitNotifier {
	return &RabbitNotifier{channel: channel, exchange: exchange, timeout: 5 * time.Second, close: func() error { return nil }}
}

// DialRabbitMQ connects and declares a durable topic exchange.
func DialRabbitMQ(url, exchange string) (*RabbitNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("exchange declare failed: %w", err)
	}

	n := NewRabbitNotifier(ch, exchange)
	n.close = func() error {
		ch.Close()
		return conn.Close()
	}
	return n, nil
}

func (n *RabbitNotifier) Close() error {
	return n.close()
}

func (n *RabbitNotifier) publish(ctx context.Context, eventType string, data any) error {
	body, err := json.Marshal(events.Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	err = n.channel.PublishWithContext(ctx, n.exchange, eventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    uuid.NewString(),
		Type:         eventType,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s failed: %w", eventType, err)
	}
	return nil
}

func (n *RabbitNotifier) Notify(ctx context.Context, userID, event string, txn *models.Transaction) error {
	return n.publish(ctx, event, transactionEvent(userID, txn))
}

func (n *RabbitNotifier) SendOTP(ctx context.Context, txn *models.Transaction, code string, expiresAt time.Time) error {
	return n.publish(ctx, events.OTPRequested, events.OTPRequestedEvent{
		Reference: txn.Reference,
		UserID:    txn.UserID,
		Code:      code,
		ExpiresAt: expiresAt,
	})
}
