package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/payment"
)

type event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object paymentIntent `json:"object"`
	} `json:"data"`
}

// Terminal event types. Anything else falls back to the embedded intent status.
var eventStatuses = map[string]string{
	"payment_intent.succeeded":      "succeeded",
	"payment_intent.payment_failed": "failed",
	"payment_intent.failed":         "failed",
	"payment_intent.canceled":       "canceled",
}

// VerifyNotification checks the Stripe-Signature header against the webhook
// secret and decodes the event. Only payment_intent objects carry a status.
func (s *StripeAdapter) VerifyNotification(ctx context.Context, payload []byte, header http.Header) (adapter.VerifiedEvent, error) {
	if err := s.verifySignature(payload, header.Get(signatureHeader)); err != nil {
		return adapter.VerifiedEvent{}, err
	}

	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return adapter.VerifiedEvent{}, fmt.Errorf("stripe: %w: signed payload is not an event: %v", payment.ErrSignature, err)
	}

	out := adapter.VerifiedEvent{EventID: ev.ID, EventType: ev.Type, RawPayload: payload}
	if ev.Data.Object.Object != "payment_intent" {
		return out, nil
	}
	out.TransactionID = ev.Data.Object.ID
	if status, ok := eventStatuses[ev.Type]; ok {
		out.ProviderStatus = status
	} else {
		out.ProviderStatus = ev.Data.Object.Status
	}
	return out, nil
}

func (s *StripeAdapter) verifySignature(payload []byte, sigHeader string) error {
	if s.webhookSecret == "" {
		return fmt.Errorf("stripe: %w: webhook secret not configured", payment.ErrSignature)
	}
	if sigHeader == "" {
		return fmt.Errorf("stripe: %w: missing %s header", payment.ErrSignature, signatureHeader)
	}

	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(sigHeader, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("stripe: %w: bad timestamp", payment.ErrSignature)
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return fmt.Errorf("stripe: %w: malformed %s header", payment.ErrSignature, signatureHeader)
	}

	age := s.now().Sub(time.Unix(timestamp, 0))
	if age > s.tolerance || age < -s.tolerance {
		return fmt.Errorf("stripe: %w: timestamp outside tolerance", payment.ErrSignature)
	}

	expected := computeSignature(s.webhookSecret, timestamp, payload)
	for _, candidate := range signatures {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			return nil
		}
	}
	return fmt.Errorf("stripe: %w: no matching v1 signature", payment.ErrSignature)
}

// computeSignature is HMAC-SHA256(secret, "<timestamp>.<payload>").
func computeSignature(secret string, timestamp int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
