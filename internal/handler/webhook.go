package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"medride/internal/service"
)

// SignatureHeader carries the gateway's webhook signature.
const SignatureHeader = "Gateway-Signature"

// maxWebhookBody bounds how much of a webhook request is read.
const maxWebhookBody = 1 << 20

// WebhookQueue applies verified gateway events.
type WebhookQueue interface {
	Submit(ctx context.Context, ev service.WebhookEvent) error
}

// WebhookHandler receives payment gateway events.
type WebhookHandler struct {
	queue  WebhookQueue
	secret string
	now    func() time.Time
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(queue WebhookQueue, secret string) *WebhookHandler {
	return &WebhookHandler{queue: queue, secret: secret, now: time.Now}
}

// Receive handles POST /webhooks/gateway
// The event is acknowledged only after it is applied. Anything else answers
// 503 so the gateway delivers it again.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		respondError(c, errInvalidBody)
		return
	}

	ev, err := service.ParseWebhook(h.secret, body, c.GetHeader(SignatureHeader), h.now())
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.queue.Submit(c.Request.Context(), *ev); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"received": true})
}
