// Package webhook holds the GitHub webhook ingress handler.
package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mendhq/mend/common/logger"
	hook "github.com/mendhq/mend/internal/webhook"
)

// EventRouter dispatches a verified payload by GitHub event type.
type EventRouter interface {
	Route(ctx context.Context, eventType string, payload []byte) error
}

type GitHubWebhookHandler struct {
	verifier *hook.Verifier
	router   EventRouter
}

func NewGitHubWebhookHandler(verifier *hook.Verifier, router EventRouter) *GitHubWebhookHandler {
	return &GitHubWebhookHandler{verifier: verifier, router: router}
}

// HandleEvent authenticates and routes one webhook delivery. Verification
// runs against the exact raw body bytes before any decoding.
func (h *GitHubWebhookHandler) HandleEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	eventType := c.GetHeader("X-GitHub-Event")
	deliveryID := c.GetHeader("X-GitHub-Delivery")

	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
		EventType:  logger.Ptr(eventType),
		DeliveryID: logger.Ptr(deliveryID),
		Component:  "mend.webhook",
	})

	if err := h.verifier.Verify(body, c.GetHeader(hook.SignatureHeader), c.GetHeader(hook.TimestampHeader)); err != nil {
		slog.WarnContext(ctx, "webhook verification failed", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature or timestamp"})
		return
	}

	if eventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-GitHub-Event header"})
		return
	}

	slog.InfoContext(ctx, "webhook received", "bytes", len(body))

	if err := h.router.Route(ctx, eventType, body); err != nil {
		slog.ErrorContext(ctx, "failed to process webhook event", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
