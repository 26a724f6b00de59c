package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/mmdatafocus/metalstock_backend/utils"
)

// RecordMovement appends a movement to an existing bucket. The ledger never creates buckets.
func RecordMovement(tx models.LedgerTx, bucketID int, ref models.Reference, fields models.MovementFields) (*models.StockMovement, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if !fields.Quantity.IsPositive() {
		return nil, models.NewValidationError("quantity", "must be greater than zero")
	}
	if _, err := tx.GetBucket(bucketID); err != nil {
		return nil, err
	}
	m := &models.StockMovement{
		BucketId:      bucketID,
		ReferenceType: ref.Type,
		ReferenceId:   strings.TrimSpace(ref.Id),
	}
	fields.Apply(m)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := tx.CreateMovement(m); err != nil {
		return nil, fmt.Errorf("record movement bucket_id=%d ref=%s: %w", bucketID, ref, err)
	}
	return m, nil
}

// UpsertMovement keeps exactly one movement per (bucket, reference): an existing one is
// overwritten with fields, otherwise a new one is created. A create that loses a race on the
// unique index re-reads the winner and updates it.
func UpsertMovement(tx models.LedgerTx, bucketID int, ref models.Reference, fields models.MovementFields) (*models.StockMovement, bool, error) {
	if err := ref.Validate(); err != nil {
		return nil, false, err
	}
	ref.Id = strings.TrimSpace(ref.Id)

	existing, err := tx.FindMovement(bucketID, ref.Type, ref.Id)
	if err != nil && !errors.Is(err, models.ErrMovementNotFound) {
		return nil, false, err
	}
	if existing == nil {
		m, err := RecordMovement(tx, bucketID, ref, fields)
		if err == nil {
			return m, true, nil
		}
		if !errors.Is(err, models.ErrDuplicateKey) {
			return nil, false, err
		}
		if existing, err = tx.FindMovement(bucketID, ref.Type, ref.Id); err != nil {
			return nil, false, err
		}
	}

	if fields.Same(existing) {
		return existing, false, nil
	}
	fields.Apply(existing)
	if err := existing.Validate(); err != nil {
		return nil, false, err
	}
	if err := tx.UpdateMovement(existing); err != nil {
		return nil, false, fmt.Errorf("update movement id=%d ref=%s: %w", existing.ID, ref, err)
	}
	return existing, false, nil
}

// DeleteMovement removes the reference's movements except the one held in keepBucketID (0 keeps
// none) and returns what it removed. A reference with no movement at all yields
// ErrMovementNotFound.
func DeleteMovement(tx models.LedgerTx, ref models.Reference, keepBucketID int) ([]*models.StockMovement, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	movements, err := tx.FindMovementsByReference(ref.Type, strings.TrimSpace(ref.Id))
	if err != nil {
		return nil, err
	}
	if len(movements) == 0 {
		return nil, fmt.Errorf("%w: ref=%s", models.ErrMovementNotFound, ref)
	}
	removed := make([]*models.StockMovement, 0, len(movements))
	for _, m := range movements {
		if keepBucketID != 0 && m.BucketId == keepBucketID {
			continue
		}
		if err := tx.DeleteMovement(m.ID); err != nil {
			return nil, fmt.Errorf("delete movement id=%d ref=%s: %w", m.ID, ref, err)
		}
		removed = append(removed, m)
	}
	return removed, nil
}

// MovementsFor lists a bucket's movements newest first. The range is inclusive by whole day.
func MovementsFor(tx models.LedgerTx, bucketID int, filter models.MovementFilter) ([]*models.StockMovement, error) {
	filter.From, filter.To = utils.DayRange(filter.From, filter.To)
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, models.NewValidationError("from", "must not be after to")
	}
	return tx.ListMovements(bucketID, filter)
}
