package models

import (
	"errors"
	"strings"
)

type MetalType string

const (
	MetalTypeGold     MetalType = "gold"
	MetalTypeSilver   MetalType = "silver"
	MetalTypePlatinum MetalType = "platinum"
	MetalTypeOther    MetalType = "other"
)

func (t MetalType) IsValid() bool {
	switch t {
	case MetalTypeGold, MetalTypeSilver, MetalTypePlatinum, MetalTypeOther:
		return true
	}
	return false
}

func ParseMetalType(s string) (MetalType, error) {
	t := MetalType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", errors.New("invalid metal type")
	}
	return t, nil
}

// StockType is the raw/refined classification of a bucket. It replaces the legacy
// "raw substring in particular" rule.
type StockType string

const (
	StockTypeRaw     StockType = "raw"
	StockTypeRefined StockType = "refined"
	StockTypeScrap   StockType = "scrap"
	StockTypeOther   StockType = "other"
)

func (t StockType) IsValid() bool {
	switch t {
	case StockTypeRaw, StockTypeRefined, StockTypeScrap, StockTypeOther:
		return true
	}
	return false
}

func ParseStockType(s string) (StockType, error) {
	t := StockType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", errors.New("invalid stock type")
	}
	return t, nil
}

// ClassifyParticular reproduces the legacy free-text rule: any particular mentioning "raw"
// targets the raw bucket, everything else the refined one. Only for migrating old rows.
func ClassifyParticular(particular string) StockType {
	if strings.Contains(strings.ToLower(particular), "raw") {
		return StockTypeRaw
	}
	return StockTypeRefined
}

type MovementType string

const (
	MovementTypeIn         MovementType = "in"
	MovementTypeOut        MovementType = "out"
	MovementTypeAdjustment MovementType = "adjustment"
)

func (t MovementType) IsValid() bool {
	switch t {
	case MovementTypeIn, MovementTypeOut, MovementTypeAdjustment:
		return true
	}
	return false
}

// AdjustDirection carries the sign of an adjustment movement. Quantities are always stored
// positive, so adjustments must say which way they go.
type AdjustDirection string

const (
	AdjustIncrease AdjustDirection = "increase"
	AdjustDecrease AdjustDirection = "decrease"
)

func (d AdjustDirection) IsValid() bool {
	return d == AdjustIncrease || d == AdjustDecrease
}

type ReferenceType string

const (
	ReferenceTypeGoldSilverPurchase ReferenceType = "GoldSilverPurchase"
	ReferenceTypeCustomerPurchase   ReferenceType = "CustomerPurchase"
	ReferenceTypeOrder              ReferenceType = "Order"
	ReferenceTypeSale               ReferenceType = "Sale"
	ReferenceTypeManual             ReferenceType = "Manual"
)

var referenceTypes = []ReferenceType{
	ReferenceTypeGoldSilverPurchase,
	ReferenceTypeCustomerPurchase,
	ReferenceTypeOrder,
	ReferenceTypeSale,
	ReferenceTypeManual,
}

func (t ReferenceType) IsValid() bool {
	for _, r := range referenceTypes {
		if r == t {
			return true
		}
	}
	return false
}

// ParseReferenceType accepts the canonical name or its lowercase / kebab form
// ("gold-silver-purchase", "customer_purchase").
func ParseReferenceType(s string) (ReferenceType, error) {
	norm := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	for _, r := range referenceTypes {
		if strings.ToLower(string(r)) == norm {
			return r, nil
		}
	}
	return "", errors.New("invalid reference type")
}

// MovementType maps a business event to the ledger direction it produces.
func (t ReferenceType) MovementType() MovementType {
	switch t {
	case ReferenceTypeGoldSilverPurchase, ReferenceTypeCustomerPurchase:
		return MovementTypeIn
	case ReferenceTypeOrder, ReferenceTypeSale:
		return MovementTypeOut
	default:
		return MovementTypeAdjustment
	}
}

type ReactionAction string

const (
	ReactionActionCreate ReactionAction = "create"
	ReactionActionUpdate ReactionAction = "update"
	ReactionActionDelete ReactionAction = "delete"
)

func (a ReactionAction) IsValid() bool {
	return a == ReactionActionCreate || a == ReactionActionUpdate || a == ReactionActionDelete
}

type NegativeStockPolicy string

const (
	NegativeStockWarn   NegativeStockPolicy = "warn"
	NegativeStockReject NegativeStockPolicy = "reject"
)
