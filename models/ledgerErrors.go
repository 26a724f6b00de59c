package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation       = errors.New("ledger validation failed")
	ErrInconsistency    = errors.New("ledger inconsistency")
	ErrBucketNotFound   = errors.New("stock bucket not found")
	ErrMovementNotFound = errors.New("stock movement not found")
	ErrNegativeStock    = errors.New("movement would drive stock below zero")
	ErrDBNotInitialized = errors.New("database not initialized")
	ErrDuplicateKey     = errors.New("duplicate key")
)

// ValidationError names the offending field. errors.Is(err, ErrValidation) holds.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InconsistencyError reports a bucket whose persisted aggregate diverged from the value
// derived from its movements.
type InconsistencyError struct {
	BucketId           int             `json:"bucket_id"`
	Key                BucketKey       `json:"key"`
	PersistedQuantity  decimal.Decimal `json:"persisted_quantity"`
	DerivedQuantity    decimal.Decimal `json:"derived_quantity"`
	PersistedTotalCost decimal.Decimal `json:"persisted_total_cost"`
	DerivedTotalCost   decimal.Decimal `json:"derived_total_cost"`
	PersistedUnitCost  decimal.Decimal `json:"persisted_unit_cost"`
	DerivedUnitCost    decimal.Decimal `json:"derived_unit_cost"`
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("%s: bucket_id=%d key=%s qty=%s derived_qty=%s total=%s derived_total=%s unit_cost=%s derived_unit_cost=%s",
		ErrInconsistency, e.BucketId, e.Key,
		e.PersistedQuantity, e.DerivedQuantity,
		e.PersistedTotalCost, e.DerivedTotalCost,
		e.PersistedUnitCost, e.DerivedUnitCost)
}

func (e *InconsistencyError) Unwrap() error { return ErrInconsistency }

// NegativeStockWarning is surfaced (not returned as an error) when the warn policy lets a
// bucket go below zero.
type NegativeStockWarning struct {
	BucketId int             `json:"bucket_id"`
	Key      BucketKey       `json:"key"`
	Quantity decimal.Decimal `json:"quantity"`
}

func (w NegativeStockWarning) String() string {
	return fmt.Sprintf("negative stock: bucket_id=%d key=%s qty=%s", w.BucketId, w.Key, w.Quantity)
}

// NegativeStockError is returned under the reject policy. errors.Is(err, ErrNegativeStock) holds.
type NegativeStockError struct {
	NegativeStockWarning
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("%s: bucket_id=%d key=%s qty=%s", ErrNegativeStock, e.BucketId, e.Key, e.Quantity)
}

func (e *NegativeStockError) Unwrap() error { return ErrNegativeStock }
