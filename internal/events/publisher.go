package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/yourorg/payment-reconciler/internal/payment"
)

const (
	EventsExchange             = "ecommerce.events"
	PaymentSucceededRoutingKey = "payment.succeeded.v1"
	PaymentFailedRoutingKey    = "payment.failed.v1"

	producerName   = "payment-reconciler"
	publishTimeout = 3 * time.Second
)

// Publisher announces terminal payment outcomes.
type Publisher interface {
	PublishPaymentResult(ctx context.Context, p payment.Payment) error
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishPaymentResult(context.Context, payment.Payment) error { return nil }

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes to the topic exchange shared by the shop services.
type AMQPPublisher struct {
	mu    sync.Mutex
	ch    channel
	now   func() time.Time
	newID func() string
}

// NewAMQPPublisher opens a channel and declares the events exchange so
// publishing never fails on missing infrastructure.
func NewAMQPPublisher(conn *amqp.Connection) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare %s: %w", EventsExchange, err)
	}
	return newPublisher(ch), nil
}

func newPublisher(ch channel) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, now: time.Now, newID: uuid.NewString}
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}

// PublishPaymentResult publishes payment.succeeded.v1 or payment.failed.v1.
func (p *AMQPPublisher) PublishPaymentResult(ctx context.Context, pay payment.Payment) error {
	routingKey, body, err := p.encode(pay)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    pay.ID,
			Timestamp:    p.now().UTC(),
			Body:         body,
		},
	)
}

func (p *AMQPPublisher) encode(pay payment.Payment) (string, []byte, error) {
	occurredAt := p.now().UTC()
	var (
		routingKey string
		body       []byte
		err        error
	)
	switch pay.Status {
	case payment.StatusCompleted:
		routingKey = PaymentSucceededRoutingKey
		body, err = json.Marshal(EventEnvelope[PaymentSucceededPayload]{
			EventName:    "PaymentSucceeded",
			EventVersion: 1,
			EventID:      p.newID(),
			Producer:     producerName,
			PartitionKey: pay.CartID,
			OccurredAt:   occurredAt,
			Schema:       "payment.succeeded.v1",
			Payload: PaymentSucceededPayload{
				PaymentID:     pay.ID,
				CartID:        pay.CartID,
				UserID:        pay.UserID,
				Amount:        payment.FormatAmount(pay.Amount, pay.Currency),
				Currency:      pay.Currency,
				Method:        pay.Method,
				TransactionID: pay.TransactionID,
			},
		})
	case payment.StatusFailed:
		routingKey = PaymentFailedRoutingKey
		body, err = json.Marshal(EventEnvelope[PaymentFailedPayload]{
			EventName:    "PaymentFailed",
			EventVersion: 1,
			EventID:      p.newID(),
			Producer:     producerName,
			PartitionKey: pay.CartID,
			OccurredAt:   occurredAt,
			Schema:       "payment.failed.v1",
			Payload: PaymentFailedPayload{
				PaymentID:     pay.ID,
				CartID:        pay.CartID,
				UserID:        pay.UserID,
				Method:        pay.Method,
				TransactionID: pay.TransactionID,
				Reason:        "provider reported failure",
			},
		})
	default:
		return "", nil, fmt.Errorf("events: payment %s is %s, only terminal payments are published", pay.ID, pay.Status)
	}
	if err != nil {
		return "", nil, fmt.Errorf("marshal payment event: %w", err)
	}
	return routingKey, body, nil
}
