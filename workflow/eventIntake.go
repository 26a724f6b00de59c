package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/sirupsen/logrus"
)

const LedgerEventsHandler = "ledger-events"

// ErrPoisonMessage marks a pushed message that can never be processed; it should be acked.
var ErrPoisonMessage = errors.New("unprocessable ledger message")

// DecodeLedgerMessage turns a pushed message into a lifecycle call.
func DecodeLedgerMessage(m config.PubSubMessage) (models.ReactionAction, models.ReferenceType, *models.MetalEvent, *models.MetalEvent, error) {
	action := models.ReactionAction(strings.ToLower(strings.TrimSpace(m.Action)))
	if !action.IsValid() {
		return "", "", nil, nil, models.NewValidationError("action", "is invalid")
	}
	refType, err := models.ParseReferenceType(m.ReferenceType)
	if err != nil {
		return "", "", nil, nil, models.NewValidationError("reference_type", "is invalid")
	}
	decode := func(raw json.RawMessage, field string) (*models.MetalEvent, error) {
		if len(raw) == 0 || string(raw) == "null" {
			return nil, nil
		}
		var e models.MetalEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, models.NewValidationError(field, "is not a valid event")
		}
		if e.ReferenceId == "" {
			e.ReferenceId = m.ReferenceId
		}
		return &e, nil
	}
	before, err := decode(m.OldObj, "old_obj")
	if err != nil {
		return "", "", nil, nil, err
	}
	after, err := decode(m.NewObj, "new_obj")
	if err != nil {
		return "", "", nil, nil, err
	}
	return action, refType, before, after, nil
}

// ProcessLedgerMessage applies a pushed event at most once per message id.
// skipped reports an already processed redelivery. Validation failures come back wrapped in
// ErrPoisonMessage; ErrIdempotencyInProgress means another worker holds the message.
func (l *Ledger) ProcessLedgerMessage(ctx context.Context, messageId string, m config.PubSubMessage) (result *ReactionResult, skipped bool, err error) {
	if strings.TrimSpace(messageId) == "" {
		messageId = m.ID
	}
	if strings.TrimSpace(messageId) == "" {
		return nil, false, errors.Join(ErrPoisonMessage, models.NewValidationError("message_id", "is required"))
	}

	err = l.store.Transaction(ctx, func(tx models.LedgerTx) error {
		var berr error
		skipped, berr = BeginIdempotency(tx, LedgerEventsHandler, messageId, l.now())
		return berr
	})
	if err != nil || skipped {
		return nil, skipped, err
	}

	action, refType, before, after, err := DecodeLedgerMessage(m)
	if err == nil {
		result, err = l.Apply(ctx, action, refType, before, after)
	}

	markErr := l.store.Transaction(context.WithoutCancel(ctx), func(tx models.LedgerTx) error {
		if err != nil {
			return MarkIdempotencyFailed(tx, LedgerEventsHandler, messageId, err)
		}
		return MarkIdempotencySucceeded(tx, LedgerEventsHandler, messageId)
	})
	if markErr != nil {
		config.LogError(l.logger, "workflow", "ProcessLedgerMessage", "mark idempotency", messageId, markErr)
	}

	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"message_id":     messageId,
			"reference_type": m.ReferenceType,
			"reference_id":   m.ReferenceId,
			"action":         m.Action,
		}).Error("ledger.push.failed: " + err.Error())
		if errors.Is(err, models.ErrValidation) {
			return nil, false, errors.Join(ErrPoisonMessage, err)
		}
		return nil, false, err
	}
	return result, false, nil
}
