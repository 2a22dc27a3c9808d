package handlers

import (
	"io"
	"net/http"

	"donation-svc/apperr"
	"donation-svc/ingress"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	receiver *ingress.Receiver
	logger   *zap.Logger
}

func NewWebhookHandler(receiver *ingress.Receiver, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{receiver: receiver, logger: logger}
}

func (h *WebhookHandler) Stripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		respondError(c, h.logger, apperr.Validation("Failed to read request body"))
		return
	}

	result, err := h.receiver.Receive(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	// processing failures are still acknowledged with 200
	if result.Err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success":    false,
			"event_type": result.EventType,
			"error":      apperr.PublicMessage(result.Err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "event_type": result.EventType})
}
