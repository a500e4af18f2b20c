package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/payment"
)

const expectedAuthAlgo = "SHA256withRSA"

var transmissionHeaders = []string{
	"PAYPAL-TRANSMISSION-ID",
	"PAYPAL-TRANSMISSION-TIME",
	"PAYPAL-TRANSMISSION-SIG",
	"PAYPAL-CERT-URL",
	"PAYPAL-AUTH-ALGO",
}

// Terminal event types. Others are informational.
var eventStatuses = map[string]string{
	"PAYMENT.CAPTURE.COMPLETED": "completed",
	"PAYMENT.CAPTURE.DENIED":    "denied",
	"PAYMENT.CAPTURE.DECLINED":  "declined",
	"CHECKOUT.ORDER.VOIDED":     "voided",
}

type webhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// VerifyNotification asks PayPal to verify the transmission signature for the
// configured webhook id. A PayPal outage surfaces as ErrProviderUnavailable,
// not as a signature failure, so the sender retries.
func (p *PayPalAdapter) VerifyNotification(ctx context.Context, payload []byte, header http.Header) (adapter.VerifiedEvent, error) {
	if p.webhookID == "" {
		return adapter.VerifiedEvent{}, fmt.Errorf("paypal: %w: webhook id not configured", payment.ErrSignature)
	}
	for _, h := range transmissionHeaders {
		if header.Get(h) == "" {
			return adapter.VerifiedEvent{}, fmt.Errorf("paypal: %w: missing %s header", payment.ErrSignature, h)
		}
	}
	if algo := header.Get("PAYPAL-AUTH-ALGO"); algo != expectedAuthAlgo {
		return adapter.VerifiedEvent{}, fmt.Errorf("paypal: %w: unexpected auth algorithm %q", payment.ErrSignature, algo)
	}
	if !json.Valid(payload) {
		return adapter.VerifiedEvent{}, fmt.Errorf("paypal: %w: payload is not JSON", payment.ErrSignature)
	}

	body, err := json.Marshal(verifyRequest{
		AuthAlgo:         header.Get("PAYPAL-AUTH-ALGO"),
		CertURL:          header.Get("PAYPAL-CERT-URL"),
		TransmissionID:   header.Get("PAYPAL-TRANSMISSION-ID"),
		TransmissionSig:  header.Get("PAYPAL-TRANSMISSION-SIG"),
		TransmissionTime: header.Get("PAYPAL-TRANSMISSION-TIME"),
		WebhookID:        p.webhookID,
		WebhookEvent:     json.RawMessage(payload),
	})
	if err != nil {
		return adapter.VerifiedEvent{}, fmt.Errorf("paypal: marshal verification request: %w", err)
	}

	resp, err := p.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, "")
	if err != nil {
		return adapter.VerifiedEvent{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// auth failures were already turned into ErrProviderUnavailable by call,
		// so a rejection here is PayPal refusing the transmission itself
		perr := errorFromResponse(resp)
		if perr.Class == payment.ErrProviderRejected {
			return adapter.VerifiedEvent{}, fmt.Errorf("paypal: %w: %v", payment.ErrSignature, perr)
		}
		return adapter.VerifiedEvent{}, perr
	}

	var vr verifyResponse
	if err := json.Unmarshal(resp.Body, &vr); err != nil {
		return adapter.VerifiedEvent{}, fmt.Errorf("paypal: %w: unreadable verification response", payment.ErrSignature)
	}
	if vr.VerificationStatus != "SUCCESS" {
		return adapter.VerifiedEvent{}, fmt.Errorf("paypal: %w: verification status %s", payment.ErrSignature, vr.VerificationStatus)
	}

	var ev webhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return adapter.VerifiedEvent{}, fmt.Errorf("paypal: %w: %v", payment.ErrSignature, err)
	}
	out := adapter.VerifiedEvent{
		EventID:        ev.ID,
		EventType:      ev.EventType,
		TransactionID:  ev.Resource.SupplementaryData.RelatedIDs.OrderID,
		ProviderStatus: eventStatuses[ev.EventType],
		RawPayload:     payload,
	}
	if out.TransactionID == "" && strings.HasPrefix(ev.EventType, "CHECKOUT.ORDER.") {
		out.TransactionID = ev.Resource.ID
	}
	return out, nil
}
