// Package rabbitmq publishes in-app notifications to a topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
)

const (
	ExchangeName = "storefront.notifications"
	ExchangeType = "topic"

	peer         = "rabbitmq"
	dialAttempts = 5
)

// Channel is the part of *amqp.Channel the notifier publishes through.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Connect dials the broker, retrying while it starts up, and declares the notification exchange.
func Connect(ctx context.Context, url string, logger observability.Logger) (*amqp.Connection, *amqp.Channel, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < dialAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("rabbitmq_dial_failed",
			observability.F("attempt", i+1),
			observability.Err(err),
		)
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq: connect: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(ExchangeName, ExchangeType, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: declare exchange: %w", err)
	}
	return conn, ch, nil
}

type message struct {
	Audience string    `json:"audience"`
	UserID   string    `json:"user_id,omitempty"`
	Kind     string    `json:"kind"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	OrderID  string    `json:"order_id,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

// Notifier implements application.Notifier on a RabbitMQ channel.
type Notifier struct {
	ch      Channel
	metrics observability.Metrics
	now     func() time.Time
}

func NewNotifier(ch Channel, tel observability.Observability) *Notifier {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Notifier{ch: ch, metrics: tel.Metrics(), now: time.Now}
}

// RoutingKey is notification.<audience>.<kind>, e.g. notification.admins.low_stock.
func RoutingKey(n application.Notification) string {
	kind := strings.ToLower(strings.ReplaceAll(n.Kind, ".", "_"))
	return fmt.Sprintf("notification.%s.%s", n.Audience, kind)
}

func (n *Notifier) Notify(ctx context.Context, msg application.Notification) (err error) {
	start := time.Now()
	defer func() { observability.ExternalCall(n.metrics, peer, "notify", start, err) }()

	body, err := json.Marshal(message{
		Audience: msg.Audience,
		UserID:   msg.UserID,
		Kind:     msg.Kind,
		Title:    msg.Title,
		Message:  msg.Message,
		OrderID:  msg.OrderID,
		SentAt:   n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal notification: %w", err)
	}

	err = n.ch.PublishWithContext(ctx, ExchangeName, RoutingKey(msg), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", msg.Kind, err)
	}
	return nil
}
