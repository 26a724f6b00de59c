package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/metalstock_backend/appctx"
	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ReactionResult is what a reactor call did, including the warnings the UI should show.
// Superseded counts queued failures of the reference the call made obsolete.
type ReactionResult struct {
	Action          models.ReactionAction         `json:"action"`
	Reference       models.Reference              `json:"reference"`
	Buckets         []BucketState                 `json:"buckets"`
	Movement        *models.StockMovement         `json:"movement,omitempty"`
	Warnings        []models.NegativeStockWarning `json:"warnings,omitempty"`
	Inconsistencies []*models.InconsistencyError  `json:"inconsistencies,omitempty"`
	NotFound        bool                          `json:"not_found,omitempty"`
	Superseded      int                           `json:"superseded,omitempty"`
}

// Bucket returns the resulting state of the bucket with key, if the reaction touched it.
func (r *ReactionResult) Bucket(key models.BucketKey) (BucketState, bool) {
	key = key.Normalize()
	for _, b := range r.Buckets {
		if b.Key == key {
			return b, true
		}
	}
	return BucketState{}, false
}

// Reactor turns the create/update/delete lifecycle of one business-event type into ledger
// operations. Each call is one store transaction.
type Reactor struct {
	ledger        *Ledger
	referenceType models.ReferenceType
}

func (l *Ledger) Reactor(rt models.ReferenceType) *Reactor {
	return &Reactor{ledger: l, referenceType: rt}
}

func (l *Ledger) PurchaseReactor() *Reactor {
	return l.Reactor(models.ReferenceTypeGoldSilverPurchase)
}

func (l *Ledger) CustomerPurchaseReactor() *Reactor {
	return l.Reactor(models.ReferenceTypeCustomerPurchase)
}

func (l *Ledger) OrderReactor() *Reactor {
	return l.Reactor(models.ReferenceTypeOrder)
}

func (l *Ledger) SaleReactor() *Reactor {
	return l.Reactor(models.ReferenceTypeSale)
}

func (l *Ledger) ManualAdjustmentReactor() *Reactor {
	return l.Reactor(models.ReferenceTypeManual)
}

func (r *Reactor) ReferenceType() models.ReferenceType { return r.referenceType }

func (r *Reactor) bind(e *models.MetalEvent) error {
	if !r.referenceType.IsValid() {
		return models.NewValidationError("reference_type", "is invalid")
	}
	if e.ReferenceType == "" {
		e.ReferenceType = r.referenceType
		return nil
	}
	if e.ReferenceType != r.referenceType {
		return models.NewValidationError("reference_type", fmt.Sprintf("%s does not match %s reactor", e.ReferenceType, r.referenceType))
	}
	return nil
}

// OnCreate books the event into its bucket, creating the bucket on first use. Calling it again
// for the same reference updates the existing movement.
func (r *Reactor) OnCreate(ctx context.Context, event models.MetalEvent) (*ReactionResult, error) {
	if err := r.bind(&event); err != nil {
		return nil, err
	}
	resolved, err := event.Resolve(r.ledger.legacyClassify)
	if err != nil {
		return nil, err
	}
	return r.ledger.react(ctx, models.ReactionActionCreate, resolved.Reference, &resolved.Key, resolved.Fields, nil)
}

// OnUpdate moves the event's effect to match after. before is a hint for which buckets to
// lock; the movements actually stored for the reference decide what gets reversed, so a stale
// before snapshot cannot leave orphaned quantity behind.
func (r *Reactor) OnUpdate(ctx context.Context, before, after models.MetalEvent) (*ReactionResult, error) {
	if err := r.bind(&after); err != nil {
		return nil, err
	}
	if err := r.bind(&before); err != nil {
		return nil, err
	}
	resolved, err := after.Resolve(r.ledger.legacyClassify)
	if err != nil {
		return nil, err
	}
	if before.Reference() != resolved.Reference {
		return nil, models.NewValidationError("reference_id", "cannot change on update")
	}
	return r.ledger.react(ctx, models.ReactionActionUpdate, resolved.Reference, &resolved.Key, resolved.Fields, r.hintKeys(before))
}

// OnDelete removes every movement of the event. Deleting an unknown reference is a no-op
// reported through ReactionResult.NotFound.
func (r *Reactor) OnDelete(ctx context.Context, event models.MetalEvent) (*ReactionResult, error) {
	if err := r.bind(&event); err != nil {
		return nil, err
	}
	ref := event.Reference()
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return r.ledger.react(ctx, models.ReactionActionDelete, ref, nil, models.MovementFields{}, r.hintKeys(event))
}

func (r *Reactor) hintKeys(e models.MetalEvent) []models.BucketKey {
	// A bodyless delete carries only the reference; the stored movements name the buckets.
	if strings.TrimSpace(e.MetalType) == "" {
		return nil
	}
	resolved, err := e.Resolve(r.ledger.legacyClassify)
	if err != nil {
		r.ledger.logger.WithFields(logrus.Fields{
			"reference": e.Reference().String(),
			"error":     err.Error(),
		}).Warn("ledger.react.unusable_snapshot")
		return nil
	}
	return []models.BucketKey{resolved.Key}
}

// Apply routes a lifecycle call to the reactor of refType. Create reads after, delete reads
// before (or after when before is nil).
func (l *Ledger) Apply(ctx context.Context, action models.ReactionAction, refType models.ReferenceType, before, after *models.MetalEvent) (*ReactionResult, error) {
	reactor := l.Reactor(refType)
	switch action {
	case models.ReactionActionCreate:
		if after == nil {
			return nil, models.NewValidationError("after", "is required for create")
		}
		return reactor.OnCreate(ctx, *after)
	case models.ReactionActionUpdate:
		if before == nil || after == nil {
			return nil, models.NewValidationError("before", "and after are required for update")
		}
		return reactor.OnUpdate(ctx, *before, *after)
	case models.ReactionActionDelete:
		snapshot := before
		if snapshot == nil {
			snapshot = after
		}
		if snapshot == nil {
			return nil, models.NewValidationError("before", "is required for delete")
		}
		return reactor.OnDelete(ctx, *snapshot)
	default:
		return nil, models.NewValidationError("action", "is invalid")
	}
}

func (l *Ledger) react(ctx context.Context, action models.ReactionAction, ref models.Reference, target *models.BucketKey, fields models.MovementFields, hints []models.BucketKey) (*ReactionResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.react", trace.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("reference", ref.String()),
	))
	defer span.End()

	lockKeys := append([]models.BucketKey{}, hints...)
	if target != nil {
		lockKeys = append(lockKeys, *target)
	}
	unlock := l.lockBuckets(ctx, lockKeys)
	defer unlock()

	var result *ReactionResult
	err := l.store.Transaction(ctx, func(tx models.LedgerTx) error {
		if err := ensureReplayOpen(ctx, tx); err != nil {
			return err
		}
		result = &ReactionResult{Action: action, Reference: ref}
		if err := l.reactInTx(tx, result, target, fields, hints); err != nil {
			return err
		}
		var err error
		result.Superseded, err = supersedeFailures(ctx, tx, ref)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	l.invalidateReports(ctx)

	logFields := logrus.Fields{
		"action":          action,
		"reference":       ref.String(),
		"buckets":         len(result.Buckets),
		"warnings":        len(result.Warnings),
		"inconsistencies": len(result.Inconsistencies),
		"not_found":       result.NotFound,
		"superseded":      result.Superseded,
		"correlation_id":  appctx.CorrelationId(ctx),
	}
	if id := appctx.MessageId(ctx); id != "" {
		logFields["message_id"] = id
	}
	l.logger.WithFields(logFields).Info("ledger.react.done")
	return result, nil
}

// reactInTx locks every bucket the reference touches (old and new) in key order, rewrites the
// reference's movements and re-derives each locked bucket from its movements.
func (l *Ledger) reactInTx(tx models.LedgerTx, result *ReactionResult, target *models.BucketKey, fields models.MovementFields, hints []models.BucketKey) error {
	ref := result.Reference

	existing, err := tx.FindMovementsByReference(ref.Type, ref.Id)
	if err != nil {
		return err
	}
	keys := append([]models.BucketKey{}, hints...)
	if target != nil {
		keys = append(keys, *target)
	}
	for _, m := range existing {
		b, err := tx.GetBucket(m.BucketId)
		if errors.Is(err, models.ErrBucketNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		keys = append(keys, b.Key())
	}

	locked := map[int]*models.StockBucket{}
	created := map[int]bool{}
	var order []int
	var targetBucket *models.StockBucket
	for _, key := range sortedUniqueKeys(keys) {
		isTarget := target != nil && key == target.Normalize()
		b, isNew, err := tx.LockBucket(key, l.bucketRateUnit, isTarget)
		if errors.Is(err, models.ErrBucketNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if _, ok := locked[b.ID]; !ok {
			locked[b.ID] = b
			order = append(order, b.ID)
		}
		if isNew {
			created[b.ID] = true
		}
		if isTarget {
			targetBucket = b
		}
	}

	// Re-read under the locks. A movement that appeared in a bucket outside the sorted set is
	// locked late; that only happens when two calls race on the same reference.
	if existing, err = tx.FindMovementsByReference(ref.Type, ref.Id); err != nil {
		return err
	}
	for _, m := range existing {
		if _, ok := locked[m.BucketId]; ok {
			continue
		}
		b, err := tx.LockBucketByID(m.BucketId)
		if errors.Is(err, models.ErrBucketNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		locked[b.ID] = b
		order = append(order, b.ID)
	}

	projections := make(map[int]*models.StockBucket, len(order))
	for _, id := range order {
		b := locked[id]
		movements, err := tx.ListMovements(id, models.MovementFilter{})
		if err != nil {
			return err
		}
		agg := b.DeriveAggregate(movements)
		if drift := b.DriftFrom(agg, l.tolerance); drift != nil {
			l.reportDrift(drift)
			result.Inconsistencies = append(result.Inconsistencies, drift)
		}
		p := b.Clone()
		p.Quantity, p.UnitCost, p.TotalCost = agg.Quantity, agg.UnitCost, agg.TotalCost
		projections[id] = p
	}

	keepBucketID := 0
	previous := decimal.Zero
	if targetBucket != nil {
		keepBucketID = targetBucket.ID
		for _, m := range existing {
			if m.BucketId == keepBucketID {
				previous = m.SignedQuantity()
			}
		}
	}
	removed, err := DeleteMovement(tx, ref, keepBucketID)
	switch {
	case errors.Is(err, models.ErrMovementNotFound):
		result.NotFound = targetBucket == nil
	case err != nil:
		return err
	}
	deltas := map[int]decimal.Decimal{}
	for _, m := range removed {
		deltas[m.BucketId] = deltas[m.BucketId].Sub(m.SignedQuantity())
	}

	if targetBucket != nil {
		m, _, err := UpsertMovement(tx, targetBucket.ID, ref, fields)
		if err != nil {
			return err
		}
		result.Movement = m
		deltas[targetBucket.ID] = deltas[targetBucket.ID].Add(m.SignedQuantity()).Sub(previous)
	}

	for _, id := range order {
		delta := models.DeltaMovement(deltas[id], ref.Type, ref.Id)
		if delta == nil {
			continue
		}
		delta.BucketId = id
		warning, err := projections[id].ApplyIncremental(delta, l.negativePolicy)
		if err != nil {
			return err
		}
		if warning != nil {
			l.logger.WithFields(logrus.Fields{
				"bucket_id":  warning.BucketId,
				"bucket_key": warning.Key.String(),
				"quantity":   warning.Quantity.String(),
				"reference":  ref.String(),
			}).Warn("ledger.negative_stock")
			result.Warnings = append(result.Warnings, *warning)
		}
	}

	for _, id := range order {
		res, err := l.recomputeInTx(tx, locked[id])
		if err != nil {
			return err
		}
		state := res.Bucket
		state.Created = created[id]
		result.Buckets = append(result.Buckets, state)
	}
	return nil
}
