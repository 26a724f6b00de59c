package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/metalstock_backend/appctx"
	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/mmdatafocus/metalstock_backend/workflow"
	"github.com/sirupsen/logrus"
)

// pushEnvelope is the body Pub/Sub push subscriptions POST. Data arrives base64 encoded;
// unmarshalling into []byte decodes it.
type pushEnvelope struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// ledgerEventsPush acks (204) processed, redelivered and poison messages. Any other failure
// answers non-2xx so Pub/Sub redelivers.
func (h *Handler) ledgerEventsPush(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		config.LogError(h.logger, "api", "ledgerEventsPush", "io.ReadAll", nil, err)
		c.Status(http.StatusNoContent)
		return
	}
	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		config.LogError(h.logger, "api", "ledgerEventsPush", "Unmarshal body", string(body), err)
		c.Status(http.StatusNoContent)
		return
	}
	var m config.PubSubMessage
	if err := json.Unmarshal(envelope.Message.Data, &m); err != nil {
		config.LogError(h.logger, "api", "ledgerEventsPush", "Unmarshal pubsub message", string(envelope.Message.Data), err)
		c.Status(http.StatusNoContent)
		return
	}

	correlationID := m.CorrelationId
	if correlationID == "" {
		correlationID = envelope.Message.ID
	}
	ctx := appctx.WithCorrelationId(c.Request.Context(), correlationID)
	ctx = appctx.Set(ctx, appctx.ContextKeyMessageId, envelope.Message.ID)

	_, skipped, err := h.ledger.ProcessLedgerMessage(ctx, envelope.Message.ID, m)
	fields := logrus.Fields{
		"message_id":     envelope.Message.ID,
		"reference_type": m.ReferenceType,
		"reference_id":   m.ReferenceId,
		"action":         m.Action,
		"correlation_id": correlationID,
	}
	switch {
	case err == nil:
		if skipped {
			h.logger.WithFields(fields).Info("ledger.push.duplicate")
		}
		c.Status(http.StatusNoContent)
	case errors.Is(err, workflow.ErrPoisonMessage):
		// already logged by the ledger; redelivery cannot help
		c.Status(http.StatusNoContent)
	case errors.Is(err, workflow.ErrIdempotencyInProgress):
		h.logger.WithFields(fields).Warn("ledger.push.in_progress")
		c.Status(http.StatusConflict)
	default:
		c.Status(http.StatusInternalServerError)
	}
}
