package workflow

import (
	"errors"
	"time"

	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/mmdatafocus/metalstock_backend/utils"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// staleStartedAfter is how long a STARTED key blocks redeliveries before it is taken over.
const staleStartedAfter = 5 * time.Minute

// BeginIdempotency inserts STARTED. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
func BeginIdempotency(tx models.LedgerTx, handlerName, messageId string, now time.Time) (skip bool, err error) {
	key := models.IdempotencyKey{
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := tx.CreateIdempotencyKey(&key); err == nil {
		return false, nil
	} else if !errors.Is(err, models.ErrDuplicateKey) {
		return false, err
	}

	existing, err := tx.FindIdempotencyKey(handlerName, messageId)
	if err != nil {
		return false, err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		// Another worker is processing: ask Pub/Sub to redeliver later.
		// A stale STARTED row is taken over.
		if now.Sub(existing.UpdatedAt) < staleStartedAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	existing.Status = models.IdempotencyStatusStarted
	existing.LastError = nil
	return false, tx.SaveIdempotencyKey(existing)
}

func MarkIdempotencySucceeded(tx models.LedgerTx, handlerName, messageId string) error {
	return markIdempotency(tx, handlerName, messageId, models.IdempotencyStatusSucceeded, nil)
}

func MarkIdempotencyFailed(tx models.LedgerTx, handlerName, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return markIdempotency(tx, handlerName, messageId, models.IdempotencyStatusFailed, &msg)
}

func markIdempotency(tx models.LedgerTx, handlerName, messageId string, status models.IdempotencyStatus, lastError *string) error {
	existing, err := tx.FindIdempotencyKey(handlerName, messageId)
	if err != nil {
		if utils.IsRecordNotFound(err) {
			existing = &models.IdempotencyKey{HandlerName: handlerName, MessageId: messageId}
			existing.Status = status
			existing.LastError = lastError
			return tx.CreateIdempotencyKey(existing)
		}
		return err
	}
	existing.Status = status
	existing.LastError = lastError
	return tx.SaveIdempotencyKey(existing)
}
