package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-vpnshop/apperr"
	"go-vpnshop/gateway"
)

// PaymentWebhook handles gateway notifications. Idempotent no-ops still get
// a 200 so the gateway stops retrying; processing failures get a non-2xx so
// it retries later.
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	var payload gateway.WebhookPayload
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := payload.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payerID, _ := payload.PayerID()
	h.Log.Infow("webhook received", "event", payload.Event, "remote_id", payload.Object.ID,
		"status", payload.Object.Status, "telegram_id", payerID)

	err := h.Payments.Reconcile(c.Request.Context(), payload.Object.ID, payload.Object.Status)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			// Unknown payment: not ours, nothing to retry.
			h.Log.Warnw("webhook for unknown payment", "remote_id", payload.Object.ID)
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
