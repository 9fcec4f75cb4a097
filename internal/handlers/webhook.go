package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LCodingX/influence-dashboard/internal/services"
)

const webhookSecretHeader = "X-Webhook-Secret"

type WebhookHandler struct {
	webhooks services.WebhookService
}

func NewWebhookHandler(webhooks services.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// POST /api/webhooks/runpod
// Non-2xx responses make the backend retry, so only genuinely retryable
// failures return 5xx; malformed or unknown deliveries are acknowledged
// with 4xx to stop the retry loop.
func (h *WebhookHandler) Receive(c *gin.Context) {
	if err := h.webhooks.VerifySecret(c.GetHeader(webhookSecretHeader)); err != nil {
		RespondError(c, http.StatusUnauthorized, "webhook_unauthorized", err)
		return
	}

	var payload services.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}

	if err := h.webhooks.Process(c.Request.Context(), payload); err != nil {
		var validationErr *services.ValidationError
		switch {
		case errors.As(err, &validationErr):
			RespondError(c, http.StatusBadRequest, "validation_error", err)
		case errors.Is(err, services.ErrJobNotFound):
			RespondError(c, http.StatusNotFound, "job_not_found", err)
		default:
			RespondError(c, http.StatusInternalServerError, "internal_error", err)
		}
		return
	}
	RespondOK(c, gin.H{"received": true})
}
