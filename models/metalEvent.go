package models

import (
	"strings"
	"time"

	"github.com/mmdatafocus/metalstock_backend/utils"
	"github.com/shopspring/decimal"
)

// MetalEvent is the ledger-relevant snapshot of a business record (purchase, customer intake,
// order metal line, sale metal line, manual adjustment).
//
// Quantity is expressed in WeightUnit (grams when empty) and Rate per RateUnit (per gram when
// empty). Particular is display text; Classification picks the stock bucket.
type MetalEvent struct {
	ReferenceType   ReferenceType   `json:"reference_type"`
	ReferenceId     string          `json:"reference_id" validate:"required,max=64"`
	MetalType       string          `json:"metal_type" validate:"required"`
	Classification  string          `json:"classification"`
	Purity          string          `json:"purity" validate:"required,max=20"`
	Location        string          `json:"location" validate:"max=100"`
	Quantity        decimal.Decimal `json:"quantity"`
	WeightUnit      string          `json:"weight_unit"`
	Rate            decimal.Decimal `json:"rate"`
	RateUnit        string          `json:"rate_unit"`
	AdjustDirection AdjustDirection `json:"adjust_direction,omitempty"`
	Particular      string          `json:"particular"`
	Notes           string          `json:"notes"`
	EventDate       time.Time       `json:"event_date"`
}

// Reference identifies the business fact behind a set of movements.
type Reference struct {
	Type ReferenceType `json:"type"`
	Id   string        `json:"id"`
}

func (r Reference) String() string {
	return string(r.Type) + ":" + r.Id
}

func (r Reference) Validate() error {
	if !r.Type.IsValid() {
		return NewValidationError("reference_type", "is invalid")
	}
	id := strings.TrimSpace(r.Id)
	if id == "" {
		return NewValidationError("reference_id", "is required")
	}
	if len(id) > 64 {
		return NewValidationError("reference_id", "is too long")
	}
	return nil
}

func (e *MetalEvent) Reference() Reference {
	return Reference{Type: e.ReferenceType, Id: strings.TrimSpace(e.ReferenceId)}
}

// ResolvedEvent is a validated event reduced to its bucket key and movement fields.
type ResolvedEvent struct {
	Reference Reference
	Key       BucketKey
	Fields    MovementFields
}

// Resolve validates the event and derives the target bucket and the movement it produces.
// legacyClassification enables the "raw" substring rule on Particular when Classification is
// empty; otherwise an empty classification is rejected.
func (e *MetalEvent) Resolve(legacyClassification bool) (*ResolvedEvent, error) {
	if err := utils.ValidateStruct(e); err != nil {
		if field, tag, ok := utils.FirstValidationError(err); ok {
			return nil, NewValidationError(field, "failed "+tag)
		}
		return nil, NewValidationError("", err.Error())
	}
	ref := e.Reference()
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	key, err := e.bucketKey(legacyClassification)
	if err != nil {
		return nil, err
	}
	fields, err := e.movementFields()
	if err != nil {
		return nil, err
	}
	return &ResolvedEvent{Reference: ref, Key: key, Fields: fields}, nil
}

func (e *MetalEvent) bucketKey(legacyClassification bool) (BucketKey, error) {
	metal, err := ParseMetalType(e.MetalType)
	if err != nil {
		return BucketKey{}, NewValidationError("metal_type", "is invalid")
	}

	var stockType StockType
	switch {
	case strings.TrimSpace(e.Classification) != "":
		if stockType, err = ParseStockType(e.Classification); err != nil {
			return BucketKey{}, NewValidationError("classification", "is invalid")
		}
	case legacyClassification:
		stockType = ClassifyParticular(e.Particular)
	default:
		return BucketKey{}, NewValidationError("classification", "is required")
	}

	key := BucketKey{
		MetalType: metal,
		StockType: stockType,
		Purity:    Purity(e.Purity),
		Location:  e.Location,
	}.Normalize()
	if err := key.Validate(); err != nil {
		return BucketKey{}, err
	}
	return key, nil
}

func (e *MetalEvent) movementFields() (MovementFields, error) {
	weightUnit := RateUnitGram
	if strings.TrimSpace(e.WeightUnit) != "" {
		u, ok := ParseRateUnit(e.WeightUnit)
		if !ok {
			return MovementFields{}, NewValidationError("weight_unit", "is invalid")
		}
		weightUnit = u
	}
	rateUnit := RateUnitGram
	if strings.TrimSpace(e.RateUnit) != "" {
		u, ok := ParseRateUnit(e.RateUnit)
		if !ok {
			return MovementFields{}, NewValidationError("rate_unit", "is invalid")
		}
		rateUnit = u
	}

	grams := WeightToGrams(e.Quantity, weightUnit).Round(QuantityScale)
	if !grams.IsPositive() {
		return MovementFields{}, NewValidationError("quantity", "must be greater than zero")
	}
	if e.Rate.IsNegative() {
		return MovementFields{}, NewValidationError("rate", "must not be negative")
	}

	movementType := e.ReferenceType.MovementType()
	fields := MovementFields{
		MovementType: movementType,
		Quantity:     grams,
		Rate:         e.Rate,
		RateUnit:     rateUnit,
		Notes:        e.notes(),
		MovementDate: e.EventDate.UTC(),
	}
	if movementType == MovementTypeAdjustment {
		if !e.AdjustDirection.IsValid() {
			return MovementFields{}, NewValidationError("adjust_direction", "is required for adjustments")
		}
		fields.AdjustDirection = e.AdjustDirection
	} else if e.AdjustDirection != "" {
		return MovementFields{}, NewValidationError("adjust_direction", "is only allowed on manual adjustments")
	}
	if e.EventDate.IsZero() {
		fields.MovementDate = time.Time{}
	}
	return fields, nil
}

func (e *MetalEvent) notes() string {
	notes := strings.TrimSpace(e.Notes)
	particular := strings.TrimSpace(e.Particular)
	switch {
	case notes == "":
		return particular
	case particular == "":
		return notes
	default:
		return particular + " | " + notes
	}
}
