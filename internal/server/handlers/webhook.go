package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/application/reconciliation"
	"github.com/custodia/cls/internal/domain"
)

type WebhookHandler struct {
	intakeSvc     reconciliation.IIntakeService
	webhookSecret string
	logger        zerolog.Logger
}

func NewWebhookHandler(intakeSvc reconciliation.IIntakeService, webhookSecret string, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		intakeSvc:     intakeSvc,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// HandleCustodyWebhook receives asynchronous confirmations from the
// custody provider. The payload is trusted only after its HMAC
// signature verifies; duplicate deliveries are handled downstream.
func (h *WebhookHandler) HandleCustodyWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "Failed to read payload",
		})
		return
	}

	signature := c.GetHeader("X-Webhook-Signature")
	if !VerifySignature(h.webhookSecret, body, signature) {
		h.logger.Warn().Str("client_ip", c.ClientIP()).Msg("Webhook signature verification failed")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "Unauthorized",
			"message": "Invalid webhook signature",
		})
		return
	}

	var event domain.ExternalEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "Invalid payload",
		})
		return
	}
	event.ReceivedAt = time.Now()

	if err := h.intakeSvc.Apply(c.Request.Context(), &event); err != nil {
		h.logger.Error().Err(err).
			Str("event_type", event.EventType).
			Str("delivery_id", event.DeliveryID).
			Msg("Webhook processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "Webhook processing failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// VerifySignature checks the hex-encoded HMAC-SHA256 of the payload.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
