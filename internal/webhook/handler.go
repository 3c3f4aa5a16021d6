package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reviewforge/engine/internal/logctx"
	"github.com/reviewforge/engine/internal/model"
	"github.com/reviewforge/engine/internal/sanitize"
	"github.com/reviewforge/engine/internal/webhook/verify"
)

// Handler adapts Service to the HTTP contract of spec §6.1.
type Handler struct {
	service       *Service
	integrationID model.ID
	verifier      verify.Verifier
}

func NewHandler(service *Service, integrationID model.ID, verifier verify.Verifier) *Handler {
	return &Handler{service: service, integrationID: integrationID, verifier: verifier}
}

// Handle implements the single webhook intake endpoint: a 200 with
// {"received": true} on accepted-and-enqueued, 401 on a missing or
// invalid signature, and 500 on missing secret configuration or any
// other internal error.
func (h *Handler) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	log := logctx.FromContext(ctx)

	if h.verifier == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook signature verification is not configured"})
		return
	}

	eventType := c.GetHeader("x-event-type")
	if eventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing x-event-type header"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read request body"})
		return
	}

	if err := h.verifier.Verify(ctx, c.Request, body); err != nil {
		log.Warn("webhook signature verification failed", "error", sanitize.Err(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}

	payload := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}

	eventID, _ := payload["event_id"].(string)
	result, err := h.service.Intake(ctx, h.integrationID, eventType, eventID, payload)
	if err != nil {
		log.Error("webhook intake failed", "error", sanitize.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error processing webhook"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "enqueued": result.Enqueued})
}
