package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockMovement is one quantity change of a bucket. Quantity is always positive; the sign
// comes from MovementType (and AdjustDirection for adjustments).
//
// Unique (bucket_id, reference_type, reference_id): one movement per business fact per bucket.
type StockMovement struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BucketId        int             `gorm:"not null;uniqueIndex:uniq_stock_movement_ref,priority:1;index:idx_stock_movement_bucket_date,priority:1" json:"bucket_id"`
	MovementType    MovementType    `gorm:"size:20;not null" json:"movement_type"`
	AdjustDirection AdjustDirection `gorm:"size:10;not null;default:''" json:"adjust_direction,omitempty"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Rate            decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"rate"`
	RateUnit        RateUnit        `gorm:"size:10;not null;default:''" json:"rate_unit"`
	ReferenceType   ReferenceType   `gorm:"size:40;not null;uniqueIndex:uniq_stock_movement_ref,priority:2;index:idx_stock_movement_ref,priority:1" json:"reference_type"`
	ReferenceId     string          `gorm:"size:64;not null;uniqueIndex:uniq_stock_movement_ref,priority:3;index:idx_stock_movement_ref,priority:2" json:"reference_id"`
	Notes           string          `gorm:"type:text" json:"notes"`
	MovementDate    time.Time       `gorm:"not null;index:idx_stock_movement_bucket_date,priority:2" json:"movement_date"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// MovementFields are the mutable fields of a movement, used by record and upsert.
type MovementFields struct {
	MovementType    MovementType
	AdjustDirection AdjustDirection
	Quantity        decimal.Decimal
	Rate            decimal.Decimal
	RateUnit        RateUnit
	Notes           string
	MovementDate    time.Time
}

func (f MovementFields) Apply(m *StockMovement) {
	m.MovementType = f.MovementType
	m.AdjustDirection = f.AdjustDirection
	m.Quantity = f.Quantity.Round(QuantityScale)
	m.Rate = f.Rate
	m.RateUnit = f.RateUnit
	m.Notes = f.Notes
	if !f.MovementDate.IsZero() {
		m.MovementDate = f.MovementDate
	}
	if m.MovementDate.IsZero() {
		m.MovementDate = time.Now().UTC()
	}
}

// Same reports whether applying f to m would change nothing.
func (f MovementFields) Same(m *StockMovement) bool {
	return m.MovementType == f.MovementType &&
		m.AdjustDirection == f.AdjustDirection &&
		m.Quantity.Equal(f.Quantity.Round(QuantityScale)) &&
		m.Rate.Equal(f.Rate) &&
		m.RateUnit == f.RateUnit &&
		m.Notes == f.Notes &&
		(f.MovementDate.IsZero() || m.MovementDate.Equal(f.MovementDate))
}

// SignedQuantity returns +q for in, −q for out, ±q for adjustments by direction.
func (m *StockMovement) SignedQuantity() decimal.Decimal {
	switch m.MovementType {
	case MovementTypeOut:
		return m.Quantity.Neg()
	case MovementTypeAdjustment:
		if m.AdjustDirection == AdjustDecrease {
			return m.Quantity.Neg()
		}
		return m.Quantity
	default:
		return m.Quantity
	}
}

func (m *StockMovement) Validate() error {
	if !m.MovementType.IsValid() {
		return NewValidationError("movement_type", "is invalid")
	}
	if !m.Quantity.IsPositive() {
		return NewValidationError("quantity", "must be greater than zero")
	}
	if m.Rate.IsNegative() {
		return NewValidationError("rate", "must not be negative")
	}
	if m.RateUnit != "" && !m.RateUnit.IsValid() {
		return NewValidationError("rate_unit", "is invalid")
	}
	if m.MovementType == MovementTypeAdjustment && !m.AdjustDirection.IsValid() {
		return NewValidationError("adjust_direction", "is required for adjustments")
	}
	if m.MovementType != MovementTypeAdjustment && m.AdjustDirection != "" {
		return NewValidationError("adjust_direction", "is only allowed on adjustments")
	}
	if !m.ReferenceType.IsValid() {
		return NewValidationError("reference_type", "is invalid")
	}
	if strings.TrimSpace(m.ReferenceId) == "" {
		return NewValidationError("reference_id", "is required")
	}
	if len(m.ReferenceId) > 64 {
		return NewValidationError("reference_id", "is too long")
	}
	return nil
}

// BeforeSave keeps the validation invariant for rows written through gorm directly.
func (m *StockMovement) BeforeSave(*gorm.DB) error {
	return m.Validate()
}

// DeltaMovement expresses a net signed quantity change as an adjustment movement, so a bucket
// projection can run it through ApplyIncremental. Returns nil for a zero delta.
func DeltaMovement(delta decimal.Decimal, refType ReferenceType, refID string) *StockMovement {
	if delta.IsZero() {
		return nil
	}
	m := &StockMovement{
		MovementType:    MovementTypeAdjustment,
		AdjustDirection: AdjustIncrease,
		Quantity:        delta.Abs(),
		Rate:            decimal.Zero,
		ReferenceType:   refType,
		ReferenceId:     refID,
	}
	if delta.IsNegative() {
		m.AdjustDirection = AdjustDecrease
	}
	return m
}

func (m *StockMovement) Clone() *StockMovement {
	c := *m
	return &c
}

// MovementFilter narrows MovementsFor. Zero times are open bounds.
type MovementFilter struct {
	From time.Time
	To   time.Time
}

// BucketFilter narrows bucket listings; empty fields match everything.
type BucketFilter struct {
	MetalType MetalType
	StockType StockType
	Purity    Purity
	Location  *string
}

func (f BucketFilter) Matches(b *StockBucket) bool {
	if f.MetalType != "" && b.MetalType != f.MetalType {
		return false
	}
	if f.StockType != "" && b.StockType != f.StockType {
		return false
	}
	if f.Purity != "" && b.Purity != ParsePurity(string(f.Purity)) {
		return false
	}
	if f.Location != nil && b.Location != strings.TrimSpace(*f.Location) {
		return false
	}
	return true
}
