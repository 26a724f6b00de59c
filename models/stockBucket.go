package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	QuantityScale  = 4
	UnitCostScale  = 4
	TotalCostScale = 2
)

// BucketKey identifies one homogeneous pool of metal.
type BucketKey struct {
	MetalType MetalType `json:"metal_type"`
	StockType StockType `json:"stock_type"`
	Purity    Purity    `json:"purity"`
	Location  string    `json:"location"`
}

func (k BucketKey) String() string {
	if k.Location == "" {
		return fmt.Sprintf("%s/%s/%s", k.MetalType, k.StockType, k.Purity)
	}
	return fmt.Sprintf("%s/%s/%s@%s", k.MetalType, k.StockType, k.Purity, k.Location)
}

// Normalize returns the canonical form used for lookups and uniqueness.
func (k BucketKey) Normalize() BucketKey {
	return BucketKey{
		MetalType: MetalType(strings.ToLower(strings.TrimSpace(string(k.MetalType)))),
		StockType: StockType(strings.ToLower(strings.TrimSpace(string(k.StockType)))),
		Purity:    ParsePurity(string(k.Purity)),
		Location:  strings.TrimSpace(k.Location),
	}
}

func (k BucketKey) Validate() error {
	if !k.MetalType.IsValid() {
		return NewValidationError("metal_type", "is invalid")
	}
	if !k.StockType.IsValid() {
		return NewValidationError("stock_type", "is invalid")
	}
	if k.Purity == "" {
		return NewValidationError("purity", "is required")
	}
	if len(k.Purity) > 20 {
		return NewValidationError("purity", "is too long")
	}
	if len(k.Location) > 100 {
		return NewValidationError("location", "is too long")
	}
	return nil
}

// Less orders keys deterministically; multi-bucket operations lock in this order.
func (k BucketKey) Less(o BucketKey) bool {
	return k.String() < o.String()
}

type StockBucket struct {
	ID               int             `gorm:"primary_key" json:"id"`
	MetalType        MetalType       `gorm:"size:20;not null;uniqueIndex:uniq_stock_bucket_key,priority:1" json:"metal_type"`
	StockType        StockType       `gorm:"size:20;not null;uniqueIndex:uniq_stock_bucket_key,priority:2" json:"stock_type"`
	Purity           Purity          `gorm:"size:20;not null;uniqueIndex:uniq_stock_bucket_key,priority:3" json:"purity"`
	Location         string          `gorm:"size:100;not null;default:'';uniqueIndex:uniq_stock_bucket_key,priority:4" json:"location"`
	Quantity         decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"quantity"`
	RateUnit         RateUnit        `gorm:"size:10;not null;default:'gram'" json:"rate_unit"`
	UnitCost         decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"unit_cost"`
	TotalCost        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_cost"`
	Version          int             `gorm:"not null;default:0" json:"version"`
	LastReconciledAt *time.Time      `json:"last_reconciled_at"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func NewStockBucket(key BucketKey, rateUnit RateUnit) *StockBucket {
	key = key.Normalize()
	if !rateUnit.IsValid() {
		rateUnit = RateUnitGram
	}
	return &StockBucket{
		MetalType: key.MetalType,
		StockType: key.StockType,
		Purity:    key.Purity,
		Location:  key.Location,
		Quantity:  decimal.Zero,
		RateUnit:  rateUnit,
		UnitCost:  decimal.Zero,
		TotalCost: decimal.Zero,
	}
}

func (b *StockBucket) Key() BucketKey {
	return BucketKey{MetalType: b.MetalType, StockType: b.StockType, Purity: b.Purity, Location: b.Location}
}

// FineWeight is the 24K-equivalent weight held in the bucket.
func (b *StockBucket) FineWeight() decimal.Decimal {
	return FineWeight(b.Quantity, b.Purity)
}

// UnitCostPerGram expresses the bucket's weighted average cost per gram.
func (b *StockBucket) UnitCostPerGram() decimal.Decimal {
	return RateToPerGram(b.UnitCost, b.RateUnit)
}

// valueOf prices grams at a rate quoted per the bucket's rate unit.
func (b *StockBucket) valueOf(grams, rate decimal.Decimal) decimal.Decimal {
	return grams.Mul(rate).DivRound(gramsPer(b.RateUnit), TotalCostScale)
}

// normalizedRate returns the movement's rate expressed in the bucket's rate unit.
// A movement without a rate unit is taken to be quoted in the bucket's unit.
func (b *StockBucket) normalizedRate(m *StockMovement) decimal.Decimal {
	if m.RateUnit == "" || m.RateUnit == b.RateUnit {
		return m.Rate
	}
	return ConvertRate(m.Rate, m.RateUnit, b.RateUnit)
}

// ApplyIncremental folds one movement into the running aggregate.
//
// Only `in` movements carry cost into the weighted average; outflows and adjustments keep the
// unit cost and re-derive total cost from the new quantity. A non-positive result resets cost.
func (b *StockBucket) ApplyIncremental(m *StockMovement, policy NegativeStockPolicy) (*NegativeStockWarning, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	signed := m.SignedQuantity()
	newQty := b.Quantity.Add(signed)

	var warning *NegativeStockWarning
	if newQty.IsNegative() && signed.IsNegative() {
		w := NegativeStockWarning{BucketId: b.ID, Key: b.Key(), Quantity: newQty}
		if policy == NegativeStockReject {
			return nil, &NegativeStockError{NegativeStockWarning: w}
		}
		warning = &w
	}

	switch {
	case newQty.Sign() <= 0:
		b.UnitCost = decimal.Zero
		b.TotalCost = decimal.Zero
	case m.MovementType == MovementTypeIn:
		weighted := decimal.Zero
		if b.Quantity.Sign() > 0 {
			weighted = b.Quantity.Mul(b.UnitCost)
		}
		weighted = weighted.Add(m.Quantity.Mul(b.normalizedRate(m)))
		b.UnitCost = weighted.DivRound(newQty, UnitCostScale)
		b.TotalCost = b.valueOf(newQty, b.UnitCost)
	default:
		b.TotalCost = b.valueOf(newQty, b.UnitCost)
	}
	b.Quantity = newQty.Round(QuantityScale)
	b.Version++
	return warning, nil
}

// BucketAggregate is the state derived from a bucket's complete movement history.
type BucketAggregate struct {
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	InQuantity    decimal.Decimal `json:"in_quantity"`
	OutQuantity   decimal.Decimal `json:"out_quantity"`
	Adjustment    decimal.Decimal `json:"adjustment"`
	MovementCount int             `json:"movement_count"`
}

// DeriveAggregate computes quantity and weighted-average cost from movements alone.
// The result is a pure function of the movement set: sums are exact, the single division
// happens last, so any ordering of the same movements gives the same aggregate.
func (b *StockBucket) DeriveAggregate(movements []*StockMovement) BucketAggregate {
	agg := BucketAggregate{
		Quantity:    decimal.Zero,
		UnitCost:    decimal.Zero,
		TotalCost:   decimal.Zero,
		InQuantity:  decimal.Zero,
		OutQuantity: decimal.Zero,
		Adjustment:  decimal.Zero,
	}
	inValue := decimal.Zero
	for _, m := range movements {
		if m == nil {
			continue
		}
		agg.MovementCount++
		switch m.MovementType {
		case MovementTypeIn:
			agg.InQuantity = agg.InQuantity.Add(m.Quantity)
			inValue = inValue.Add(m.Quantity.Mul(b.normalizedRate(m)))
		case MovementTypeOut:
			agg.OutQuantity = agg.OutQuantity.Add(m.Quantity)
		case MovementTypeAdjustment:
			agg.Adjustment = agg.Adjustment.Add(m.SignedQuantity())
		}
	}
	agg.Quantity = agg.InQuantity.Sub(agg.OutQuantity).Add(agg.Adjustment).Round(QuantityScale)
	if agg.InQuantity.IsPositive() {
		agg.UnitCost = inValue.DivRound(agg.InQuantity, UnitCostScale)
	}
	agg.TotalCost = b.valueOf(agg.Quantity, agg.UnitCost)
	return agg
}

// RecomputeFromMovements replaces the bucket's aggregate with the ledger-derived one and
// returns it. Prior bucket state does not influence the result; Version only moves when the
// aggregate actually changed.
func (b *StockBucket) RecomputeFromMovements(movements []*StockMovement) BucketAggregate {
	agg := b.DeriveAggregate(movements)
	b.SetAggregate(agg)
	return agg
}

// SetAggregate overwrites quantity and cost with agg.
func (b *StockBucket) SetAggregate(agg BucketAggregate) {
	changed := !b.Quantity.Equal(agg.Quantity) || !b.UnitCost.Equal(agg.UnitCost) || !b.TotalCost.Equal(agg.TotalCost)
	b.Quantity = agg.Quantity
	b.UnitCost = agg.UnitCost
	b.TotalCost = agg.TotalCost
	if changed {
		b.Version++
	}
}

// DriftFrom compares persisted state with a derived aggregate. Unit cost only counts while
// the bucket holds stock: an empty bucket has no meaningful average.
func (b *StockBucket) DriftFrom(agg BucketAggregate, tolerance decimal.Decimal) *InconsistencyError {
	qtyOk := b.Quantity.Sub(agg.Quantity).Abs().LessThanOrEqual(tolerance)
	totalOk := b.TotalCost.Sub(agg.TotalCost).Abs().LessThanOrEqual(tolerance)
	unitOk := true
	if agg.Quantity.IsPositive() {
		unitOk = b.UnitCost.Sub(agg.UnitCost).Abs().LessThanOrEqual(tolerance)
	}
	if qtyOk && totalOk && unitOk {
		return nil
	}
	return &InconsistencyError{
		BucketId:           b.ID,
		Key:                b.Key(),
		PersistedQuantity:  b.Quantity,
		DerivedQuantity:    agg.Quantity,
		PersistedTotalCost: b.TotalCost,
		DerivedTotalCost:   agg.TotalCost,
		PersistedUnitCost:  b.UnitCost,
		DerivedUnitCost:    agg.UnitCost,
	}
}

// Clone returns a detached copy.
func (b *StockBucket) Clone() *StockBucket {
	c := *b
	if b.LastReconciledAt != nil {
		t := *b.LastReconciledAt
		c.LastReconciledAt = &t
	}
	return &c
}
