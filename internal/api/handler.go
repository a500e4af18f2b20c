// Package api exposes the payment operations over HTTP with gin.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/payment-reconciler/internal/monitor"
	"github.com/yourorg/payment-reconciler/internal/orchestrator"
	"github.com/yourorg/payment-reconciler/internal/payment"
	"github.com/yourorg/payment-reconciler/internal/reporting"
)

const maxBodyBytes = 1 << 20

// PaymentService is the subset of the orchestrator the handlers use.
type PaymentService interface {
	CreatePayment(ctx context.Context, req orchestrator.CreatePaymentRequest) (orchestrator.CreatePaymentResult, error)
	GetPayment(ctx context.Context, id string) (payment.Payment, error)
	ReconcileFromRedirect(ctx context.Context, token string) (payment.Payment, error)
	ReconcileFromWebhook(ctx context.Context, method string, payload []byte, header http.Header) (orchestrator.WebhookResult, error)
	Report(ctx context.Context) (*reporting.RetrospectiveReport, error)
}

// Handler serves the payment endpoints on top of a PaymentService.
type Handler struct {
	svc      PaymentService
	contract *monitor.ContractMonitor
	logger   *log.Logger
}

// NewHandler panics on a nil svc; a nil logger falls back to log.Default.
func NewHandler(svc PaymentService, logger *log.Logger) *Handler {
	if svc == nil {
		panic("PaymentService cannot be nil")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{svc: svc, contract: monitor.NewCreatePaymentMonitor(), logger: logger}
}

type createPaymentRequest struct {
	CartID string `json:"cartId"`
	UserID string `json:"userId"`
	Method string `json:"method"`
}

type createPaymentResponse struct {
	PaymentID     string `json:"paymentId"`
	TransactionID string `json:"transactionId"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	ClientHandoff string `json:"clientHandoff"`
}

type paymentResponse struct {
	PaymentID string    `json:"paymentId"`
	CartID    string    `json:"cartId"`
	UserID    string    `json:"userId"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	Method    string    `json:"method"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toPaymentResponse(p payment.Payment) paymentResponse {
	return paymentResponse{
		PaymentID: p.ID,
		CartID:    p.CartID,
		UserID:    p.UserID,
		Amount:    payment.FormatAmount(p.Amount, p.Currency),
		Currency:  p.Currency,
		Method:    p.Method,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// CreatePayment handles POST /api/payments.
func (h *Handler) CreatePayment(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: unreadable body"})
		return
	}

	valid, validationErrors, err := h.contract.Validate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: body is not JSON"})
		return
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatErrors(validationErrors)})
		return
	}

	var req createPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	res, err := h.svc.CreatePayment(c.Request.Context(), orchestrator.CreatePaymentRequest{
		CartID: req.CartID,
		UserID: req.UserID,
		Method: req.Method,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, createPaymentResponse{
		PaymentID:     res.PaymentID,
		TransactionID: res.TransactionID,
		Method:        res.Method,
		Status:        string(res.Status),
		ClientHandoff: res.ClientHandoff,
	})
}

// GetPayment handles GET /api/payments/:id.
func (h *Handler) GetPayment(c *gin.Context) {
	p, err := h.svc.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(p))
}

// PayPalSuccess handles the payer returning from PayPal approval.
func (h *Handler) PayPalSuccess(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	p, err := h.svc.ReconcileFromRedirect(c.Request.Context(), token)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Printf("API: paypal return payment_id=%s payer_present=%t status=%s", p.ID, c.Query("PayerID") != "", p.Status)
	c.JSON(http.StatusOK, toPaymentResponse(p))
}

// PayPalCancel acknowledges an abandoned approval. The payment stays pending
// until the provider reports a terminal status.
func (h *Handler) PayPalCancel(c *gin.Context) {
	h.logger.Printf("API: paypal approval cancelled token_present=%t", c.Query("token") != "")
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "message": "Payment was cancelled by the payer"})
}

// Webhook handles POST /webhooks/:provider. The body is passed unparsed to
// signature verification. Only transient failures get a non-2xx answer so
// the provider redelivers.
func (h *Handler) Webhook(c *gin.Context) {
	provider := c.Param("provider")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	res, err := h.svc.ReconcileFromWebhook(c.Request.Context(), provider, body, c.Request.Header)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": string(res.Outcome)})
	case errors.Is(err, payment.ErrUnsupportedMethod):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
	case errors.Is(err, payment.ErrSignature), errors.Is(err, payment.ErrPaymentNotFound):
		c.JSON(http.StatusOK, gin.H{"received": true})
	default:
		h.logger.Printf("API: webhook provider=%s failed, asking for redelivery: %v", provider, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	}
}

// Report handles GET /api/payments/report.
func (h *Handler) Report(c *gin.Context) {
	report, err := h.svc.Report(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Printf("API: %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": msg})
}

// statusFor maps the error taxonomy to an HTTP status and a public message.
// Messages never carry identifiers or provider payloads.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, payment.ErrUnsupportedMethod):
		return http.StatusBadRequest, payment.ErrUnsupportedMethod.Error()
	case errors.Is(err, payment.ErrInvalidCart):
		return http.StatusUnprocessableEntity, payment.ErrInvalidCart.Error()
	case errors.Is(err, payment.ErrPolicyRejected):
		return http.StatusUnprocessableEntity, payment.ErrPolicyRejected.Error()
	case errors.Is(err, payment.ErrProviderRejected):
		return http.StatusUnprocessableEntity, payment.ErrProviderRejected.Error()
	case errors.Is(err, payment.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, payment.ErrProviderUnavailable.Error()
	case errors.Is(err, payment.ErrPaymentNotFound):
		return http.StatusNotFound, payment.ErrPaymentNotFound.Error()
	case errors.Is(err, payment.ErrSignature):
		return http.StatusBadRequest, payment.ErrSignature.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
