// Package kafka hands order confirmation emails to the mail service over a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
)

const peer = "kafka"

// Producer is satisfied by the traced writer returned from NewWriter.
type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// NewWriter builds a writer that injects the caller's trace context into message headers.
// brokers is a comma-separated list of host:port addresses.
func NewWriter(brokers, topic, clientID string, tp trace.TracerProvider) (*otelkafka.Writer, error) {
	addrs := splitBrokers(brokers)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("kafka: no broker address in %q", brokers)
	}
	base := &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes([]attribute.KeyValue{
			semconv.MessagingDestinationNameKey.String(topic),
			attribute.String("messaging.kafka.client_id", clientID),
		}),
	)
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type line struct {
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

type confirmationMail struct {
	Template      string `json:"template"`
	To            string `json:"to"`
	FullName      string `json:"full_name"`
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	PaymentMethod string `json:"payment_method"`
	Total         string `json:"total"`
	Lines         []line `json:"lines"`
}

// Mailer implements application.Mailer. Messages are keyed by order id so every mail for one order
// lands on the same partition.
type Mailer struct {
	producer Producer
	metrics  observability.Metrics
}

func NewMailer(producer Producer, tel observability.Observability) *Mailer {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Mailer{producer: producer, metrics: tel.Metrics()}
}

func (m *Mailer) SendOrderConfirmation(ctx context.Context, c application.OrderConfirmation) (err error) {
	start := time.Now()
	defer func() { observability.ExternalCall(m.metrics, peer, "order_confirmation", start, err) }()

	if c.Email == "" {
		return fmt.Errorf("kafka: order %s: recipient has no email", c.OrderID)
	}

	mail := confirmationMail{
		Template:      "order_confirmation",
		To:            c.Email,
		FullName:      c.FullName,
		OrderID:       c.OrderID,
		UserID:        c.UserID,
		PaymentMethod: c.PaymentMethod,
		Total:         c.Total.StringFixed(2),
		Lines:         make([]line, 0, len(c.Lines)),
	}
	for _, l := range c.Lines {
		mail.Lines = append(mail.Lines, line{
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice.StringFixed(2),
			Subtotal:    l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).StringFixed(2),
		})
	}

	payload, err := json.Marshal(mail)
	if err != nil {
		return fmt.Errorf("kafka: marshal confirmation %s: %w", c.OrderID, err)
	}
	msg := kafka.Message{
		Key:   []byte(c.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if err = m.producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write confirmation %s: %w", c.OrderID, err)
	}
	return nil
}

func (m *Mailer) Close() error {
	return m.producer.Close()
}
