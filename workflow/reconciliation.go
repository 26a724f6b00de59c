package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BucketState is the externally visible snapshot of a bucket.
type BucketState struct {
	BucketId         int              `json:"bucket_id"`
	Key              models.BucketKey `json:"key"`
	Quantity         decimal.Decimal  `json:"quantity"`
	RateUnit         models.RateUnit  `json:"rate_unit"`
	UnitCost         decimal.Decimal  `json:"unit_cost"`
	TotalCost        decimal.Decimal  `json:"total_cost"`
	FineWeight       decimal.Decimal  `json:"fine_weight"`
	Version          int              `json:"version"`
	Created          bool             `json:"created,omitempty"`
	LastReconciledAt *time.Time       `json:"last_reconciled_at,omitempty"`
}

func NewBucketState(b *models.StockBucket) BucketState {
	return BucketState{
		BucketId:         b.ID,
		Key:              b.Key(),
		Quantity:         b.Quantity,
		RateUnit:         b.RateUnit,
		UnitCost:         b.UnitCost,
		TotalCost:        b.TotalCost,
		FineWeight:       b.FineWeight().Round(models.QuantityScale),
		Version:          b.Version,
		LastReconciledAt: b.LastReconciledAt,
	}
}

type ReconcileResult struct {
	Bucket    BucketState                `json:"bucket"`
	Aggregate models.BucketAggregate     `json:"aggregate"`
	Drift     *models.InconsistencyError `json:"drift,omitempty"`
}

// reconcileInTx re-derives the locked bucket from its full movement history and persists it.
// Drift against the persisted state is logged and returned, never fatal: the derived state wins.
func (l *Ledger) reconcileInTx(tx models.LedgerTx, bucket *models.StockBucket) (*ReconcileResult, error) {
	return l.rederive(tx, bucket, true)
}

// recomputeInTx is reconcileInTx for a bucket whose movements the caller just changed, where a
// difference from the persisted state is expected rather than drift.
func (l *Ledger) recomputeInTx(tx models.LedgerTx, bucket *models.StockBucket) (*ReconcileResult, error) {
	return l.rederive(tx, bucket, false)
}

func (l *Ledger) rederive(tx models.LedgerTx, bucket *models.StockBucket, checkDrift bool) (*ReconcileResult, error) {
	movements, err := tx.ListMovements(bucket.ID, models.MovementFilter{})
	if err != nil {
		return nil, fmt.Errorf("list movements bucket_id=%d: %w", bucket.ID, err)
	}
	agg := bucket.DeriveAggregate(movements)
	var drift *models.InconsistencyError
	if checkDrift {
		if drift = bucket.DriftFrom(agg, l.tolerance); drift != nil {
			l.reportDrift(drift)
		}
	}

	bucket.SetAggregate(agg)
	reconciledAt := l.now()
	bucket.LastReconciledAt = &reconciledAt
	if err := tx.SaveBucket(bucket); err != nil {
		return nil, fmt.Errorf("save bucket_id=%d: %w", bucket.ID, err)
	}
	return &ReconcileResult{Bucket: NewBucketState(bucket), Aggregate: agg, Drift: drift}, nil
}

func (l *Ledger) reportDrift(drift *models.InconsistencyError) {
	config.LogError(l.logger, "workflow", "reconcile", "ledger.reconcile.drift", logrus.Fields{
		"bucket_id":            drift.BucketId,
		"bucket_key":           drift.Key.String(),
		"persisted_quantity":   drift.PersistedQuantity.String(),
		"derived_quantity":     drift.DerivedQuantity.String(),
		"persisted_total_cost": drift.PersistedTotalCost.String(),
		"derived_total_cost":   drift.DerivedTotalCost.String(),
		"persisted_unit_cost":  drift.PersistedUnitCost.String(),
		"derived_unit_cost":    drift.DerivedUnitCost.String(),
	}, drift)
}

// Reconcile recomputes one bucket under its row lock. Running it twice without intervening
// movements leaves quantity, cost and version unchanged.
func (l *Ledger) Reconcile(ctx context.Context, bucketID int) (*ReconcileResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.reconcile", trace.WithAttributes(attribute.Int("bucket_id", bucketID)))
	defer span.End()

	var result *ReconcileResult
	err := l.store.Transaction(ctx, func(tx models.LedgerTx) error {
		bucket, err := tx.LockBucketByID(bucketID)
		if err != nil {
			return err
		}
		result, err = l.reconcileInTx(tx, bucket)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	l.invalidateReports(ctx)
	return result, nil
}

type ReconcileSummary struct {
	Checked int                          `json:"checked"`
	Drifted []*models.InconsistencyError `json:"drifted"`
	Failed  map[int]string               `json:"failed"`
}

// ReconcileAll sweeps every bucket, each in its own transaction. A failing bucket is recorded
// and the sweep continues.
func (l *Ledger) ReconcileAll(ctx context.Context) (*ReconcileSummary, error) {
	ctx, span := tracer.Start(ctx, "ledger.reconcile_all")
	defer span.End()

	var buckets []*models.StockBucket
	if err := l.store.Transaction(ctx, func(tx models.LedgerTx) error {
		var err error
		buckets, err = tx.ListBuckets(models.BucketFilter{})
		return err
	}); err != nil {
		span.RecordError(err)
		return nil, err
	}

	summary := &ReconcileSummary{Failed: map[int]string{}}
	for _, b := range buckets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := l.Reconcile(ctx, b.ID)
		if errors.Is(err, models.ErrBucketNotFound) {
			continue
		}
		summary.Checked++
		if err != nil {
			config.LogError(l.logger, "workflow", "ReconcileAll", "reconcile bucket", b.ID, err)
			summary.Failed[b.ID] = err.Error()
			continue
		}
		if res.Drift != nil {
			summary.Drifted = append(summary.Drifted, res.Drift)
		}
	}
	l.logger.WithFields(logrus.Fields{
		"checked": summary.Checked,
		"drifted": len(summary.Drifted),
		"failed":  len(summary.Failed),
	}).Info("ledger.reconcile_all.done")
	return summary, nil
}

// WeightedAverageRate is Σ(per-gram cost × qty) / Σ qty over buckets holding stock, expressed
// per target unit. Zero when no bucket holds stock.
func WeightedAverageRate(buckets []*models.StockBucket, target models.RateUnit) decimal.Decimal {
	weighted := decimal.Zero
	qty := decimal.Zero
	for _, b := range buckets {
		if b == nil || !b.Quantity.IsPositive() {
			continue
		}
		weighted = weighted.Add(b.UnitCostPerGram().Mul(b.Quantity))
		qty = qty.Add(b.Quantity)
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	perGram := weighted.DivRound(qty, 10)
	return models.RateFromPerGram(perGram, target).Round(models.UnitCostScale)
}

// RateLookup supplies a per-gram valuation rate for a bucket (e.g. today's market rate).
// ok=false falls back to the bucket's own cost.
type RateLookup func(b *models.StockBucket) (perGram decimal.Decimal, ok bool)

// TotalValue is Σ(quantity × per-gram rate) across buckets.
func TotalValue(buckets []*models.StockBucket, lookup RateLookup) decimal.Decimal {
	total := decimal.Zero
	for _, b := range buckets {
		if b == nil {
			continue
		}
		rate := b.UnitCostPerGram()
		if lookup != nil {
			if r, ok := lookup(b); ok {
				rate = r
			}
		}
		total = total.Add(b.Quantity.Mul(rate))
	}
	return total.Round(models.TotalCostScale)
}

// TotalFineWeight sums the 24K-equivalent grams of the buckets.
func TotalFineWeight(buckets []*models.StockBucket) decimal.Decimal {
	total := decimal.Zero
	for _, b := range buckets {
		if b == nil {
			continue
		}
		total = total.Add(b.FineWeight())
	}
	return total.Round(models.QuantityScale)
}

// GetBucket returns the bucket for key without locking.
func (l *Ledger) GetBucket(ctx context.Context, key models.BucketKey) (*models.StockBucket, error) {
	ctx, span := tracer.Start(ctx, "ledger.get_bucket", trace.WithAttributes(attribute.String("bucket_key", key.String())))
	defer span.End()

	var bucket *models.StockBucket
	err := l.store.Transaction(ctx, func(tx models.LedgerTx) error {
		var err error
		bucket, err = tx.FindBucket(key)
		return err
	})
	return bucket, err
}

func (l *Ledger) ListBuckets(ctx context.Context, filter models.BucketFilter) ([]*models.StockBucket, error) {
	ctx, span := tracer.Start(ctx, "ledger.list_buckets")
	defer span.End()

	var buckets []*models.StockBucket
	err := l.store.Transaction(ctx, func(tx models.LedgerTx) error {
		var err error
		buckets, err = tx.ListBuckets(filter)
		return err
	})
	return buckets, err
}

// ListMovements returns the bucket's movements in [from, to] (whole days, zero = open).
func (l *Ledger) ListMovements(ctx context.Context, key models.BucketKey, from, to time.Time) ([]*models.StockMovement, error) {
	ctx, span := tracer.Start(ctx, "ledger.list_movements", trace.WithAttributes(attribute.String("bucket_key", key.String())))
	defer span.End()

	var movements []*models.StockMovement
	err := l.store.Transaction(ctx, func(tx models.LedgerTx) error {
		bucket, err := tx.FindBucket(key)
		if err != nil {
			return err
		}
		movements, err = MovementsFor(tx, bucket.ID, models.MovementFilter{From: from, To: to})
		return err
	})
	return movements, err
}

// WeightedAverageRateFor is WeightedAverageRate over every bucket of metal ("" = all metals).
func (l *Ledger) WeightedAverageRateFor(ctx context.Context, metal models.MetalType, target models.RateUnit) (decimal.Decimal, error) {
	if !target.IsValid() {
		return decimal.Zero, models.NewValidationError("unit", "is invalid")
	}
	key := fmt.Sprintf("wavg:%s:%s", metal, target)
	return cachedReport(ctx, l, key, func() (decimal.Decimal, error) {
		buckets, err := l.ListBuckets(ctx, models.BucketFilter{MetalType: metal})
		if err != nil {
			return decimal.Zero, err
		}
		return WeightedAverageRate(buckets, target), nil
	})
}

// TotalValueFor values every bucket of metal ("" = all metals) at its own cost.
func (l *Ledger) TotalValueFor(ctx context.Context, metal models.MetalType) (decimal.Decimal, error) {
	key := fmt.Sprintf("total:%s", metal)
	return cachedReport(ctx, l, key, func() (decimal.Decimal, error) {
		buckets, err := l.ListBuckets(ctx, models.BucketFilter{MetalType: metal})
		if err != nil {
			return decimal.Zero, err
		}
		return TotalValue(buckets, nil), nil
	})
}

type MetalSummary struct {
	MetalType           models.MetalType `json:"metal_type"`
	Quantity            decimal.Decimal  `json:"quantity"`
	FineWeight          decimal.Decimal  `json:"fine_weight"`
	TotalValue          decimal.Decimal  `json:"total_value"`
	WeightedAvgPerGram  decimal.Decimal  `json:"weighted_avg_per_gram"`
	WeightedAvgPerTola  decimal.Decimal  `json:"weighted_avg_per_tola"`
	BucketCount         int              `json:"bucket_count"`
	NegativeBucketCount int              `json:"negative_bucket_count"`
}

type StockSummary struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Buckets     []BucketState  `json:"buckets"`
	Metals      []MetalSummary `json:"metals"`
}

// StockSummary lists every bucket matching filter with per-metal totals.
func (l *Ledger) StockSummary(ctx context.Context, filter models.BucketFilter) (*StockSummary, error) {
	key := fmt.Sprintf("summary:%s:%s:%s", filter.MetalType, filter.StockType, filter.Purity)
	if filter.Location != nil {
		key += ":" + *filter.Location
	}
	return cachedReport(ctx, l, key, func() (*StockSummary, error) {
		buckets, err := l.ListBuckets(ctx, filter)
		if err != nil {
			return nil, err
		}
		return buildStockSummary(buckets, l.now()), nil
	})
}

func buildStockSummary(buckets []*models.StockBucket, generatedAt time.Time) *StockSummary {
	summary := &StockSummary{GeneratedAt: generatedAt, Buckets: make([]BucketState, 0, len(buckets))}
	byMetal := map[models.MetalType][]*models.StockBucket{}
	for _, b := range buckets {
		summary.Buckets = append(summary.Buckets, NewBucketState(b))
		byMetal[b.MetalType] = append(byMetal[b.MetalType], b)
	}
	metals := make([]models.MetalType, 0, len(byMetal))
	for m := range byMetal {
		metals = append(metals, m)
	}
	sort.Slice(metals, func(i, j int) bool { return metals[i] < metals[j] })

	for _, metal := range metals {
		group := byMetal[metal]
		ms := MetalSummary{
			MetalType:          metal,
			Quantity:           decimal.Zero,
			FineWeight:         TotalFineWeight(group),
			TotalValue:         TotalValue(group, nil),
			WeightedAvgPerGram: WeightedAverageRate(group, models.RateUnitGram),
			WeightedAvgPerTola: WeightedAverageRate(group, models.RateUnitTola),
			BucketCount:        len(group),
		}
		for _, b := range group {
			ms.Quantity = ms.Quantity.Add(b.Quantity)
			if b.Quantity.IsNegative() {
				ms.NegativeBucketCount++
			}
		}
		summary.Metals = append(summary.Metals, ms)
	}
	return summary
}
