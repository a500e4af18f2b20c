// Package events publishes payment outcome events to RabbitMQ.
package events

import "time"

// EventEnvelope is the common envelope for all emitted events.
type EventEnvelope[T any] struct {
	EventName     string    `json:"eventName"`
	EventVersion  int       `json:"eventVersion"`
	EventID       string    `json:"eventId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Producer      string    `json:"producer"`
	PartitionKey  string    `json:"partitionKey"`
	OccurredAt    time.Time `json:"occurredAt"`
	Schema        string    `json:"schema"`
	Payload       T         `json:"payload"`
}

// PaymentSucceededPayload is the v1 payload of payment.succeeded.
type PaymentSucceededPayload struct {
	PaymentID     string `json:"paymentId"`
	CartID        string `json:"cartId"`
	UserID        string `json:"userId"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Method        string `json:"method"`
	TransactionID string `json:"transactionId"`
}

// PaymentFailedPayload is the v1 payload of payment.failed.
type PaymentFailedPayload struct {
	PaymentID     string `json:"paymentId"`
	CartID        string `json:"cartId"`
	UserID        string `json:"userId"`
	Method        string `json:"method"`
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason"`
}
