package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	// HeaderRequestID carries the correlation id echoed on every response.
	HeaderRequestID = "X-Request-ID"
	serviceName     = "payment-reconciler"
)

// RequestID echoes the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// Recovery turns a panic, such as an invariant violation, into a 500.
func Recovery(logger *log.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Printf("API: panic serving %s %s request_id=%s: %v", c.Request.Method, c.Request.URL.Path, c.GetString("request_id"), recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

// NewRouter builds the gin engine. gatherer backs /metrics.
func NewRouter(h *Handler, gatherer prometheus.Gatherer, logger *log.Logger) *gin.Engine {
	if logger == nil {
		logger = log.Default()
	}
	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery(logger))
	if gin.Mode() != gin.TestMode {
		r.Use(gin.Logger())
	}
	r.Use(otelgin.Middleware(serviceName))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	payments := r.Group("/api/payments")
	payments.POST("", h.CreatePayment)
	payments.GET("/report", h.Report)
	payments.GET("/paypal/success", h.PayPalSuccess)
	payments.GET("/paypal/cancel", h.PayPalCancel)
	payments.GET("/:id", h.GetPayment)

	r.POST("/webhooks/:provider", h.Webhook)
	return r
}
