package models

import (
	"errors"
	"testing"
	"time"
)

func purchaseEvent() MetalEvent {
	return MetalEvent{
		ReferenceType:  ReferenceTypeGoldSilverPurchase,
		ReferenceId:    "P-1",
		MetalType:      "Gold",
		Classification: "raw",
		Purity:         "22k",
		Quantity:       d("10"),
		Rate:           d("6000"),
		Particular:     "bar",
		Notes:          "from supplier",
		EventDate:      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestResolvePurchase(t *testing.T) {
	e := purchaseEvent()
	r, err := e.Resolve(false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Key != goldRawKey() {
		t.Fatalf("key = %+v", r.Key)
	}
	if r.Reference != (Reference{Type: ReferenceTypeGoldSilverPurchase, Id: "P-1"}) {
		t.Fatalf("reference = %+v", r.Reference)
	}
	f := r.Fields
	if f.MovementType != MovementTypeIn || !f.Quantity.Equal(d("10")) || f.RateUnit != RateUnitGram {
		t.Fatalf("fields = %+v", f)
	}
	if f.Notes != "bar | from supplier" {
		t.Fatalf("notes = %q", f.Notes)
	}
	if !f.MovementDate.Equal(e.EventDate) {
		t.Fatalf("date = %s", f.MovementDate)
	}
}

func TestResolveConvertsWeightUnit(t *testing.T) {
	e := purchaseEvent()
	e.Quantity = d("2")
	e.WeightUnit = "tola"
	e.RateUnit = "tola"
	r, err := e.Resolve(false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !r.Fields.Quantity.Equal(d("23.3286")) || r.Fields.RateUnit != RateUnitTola {
		t.Fatalf("fields = %+v", r.Fields)
	}
}

func TestResolveDirections(t *testing.T) {
	cases := map[ReferenceType]MovementType{
		ReferenceTypeGoldSilverPurchase: MovementTypeIn,
		ReferenceTypeCustomerPurchase:   MovementTypeIn,
		ReferenceTypeOrder:              MovementTypeOut,
		ReferenceTypeSale:               MovementTypeOut,
	}
	for rt, want := range cases {
		e := purchaseEvent()
		e.ReferenceType = rt
		r, err := e.Resolve(false)
		if err != nil {
			t.Fatalf("%s: %v", rt, err)
		}
		if r.Fields.MovementType != want {
			t.Fatalf("%s: movement type %s, want %s", rt, r.Fields.MovementType, want)
		}
	}

	e := purchaseEvent()
	e.ReferenceType = ReferenceTypeManual
	e.AdjustDirection = AdjustDecrease
	r, err := e.Resolve(false)
	if err != nil {
		t.Fatalf("manual: %v", err)
	}
	if r.Fields.MovementType != MovementTypeAdjustment || r.Fields.AdjustDirection != AdjustDecrease {
		t.Fatalf("manual fields = %+v", r.Fields)
	}
}

func TestResolveLegacyClassification(t *testing.T) {
	e := purchaseEvent()
	e.Classification = ""
	e.Particular = "Raw gold nuggets"
	if _, err := e.Resolve(false); err == nil {
		t.Fatalf("missing classification must be rejected without the legacy rule")
	}
	r, err := e.Resolve(true)
	if err != nil {
		t.Fatalf("legacy resolve: %v", err)
	}
	if r.Key.StockType != StockTypeRaw {
		t.Fatalf("stock type = %s", r.Key.StockType)
	}
	e.Particular = "ring"
	if r, _ = e.Resolve(true); r.Key.StockType != StockTypeRefined {
		t.Fatalf("non-raw particular must be refined, got %s", r.Key.StockType)
	}
}

func TestResolveRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(e *MetalEvent)
		field  string
	}{
		{"missing reference", func(e *MetalEvent) { e.ReferenceId = "" }, "reference_id"},
		{"missing metal", func(e *MetalEvent) { e.MetalType = "" }, "metal_type"},
		{"unknown metal", func(e *MetalEvent) { e.MetalType = "brass" }, "metal_type"},
		{"bad classification", func(e *MetalEvent) { e.Classification = "melted" }, "classification"},
		{"zero quantity", func(e *MetalEvent) { e.Quantity = d("0") }, "quantity"},
		{"negative quantity", func(e *MetalEvent) { e.Quantity = d("-1") }, "quantity"},
		{"negative rate", func(e *MetalEvent) { e.Rate = d("-5") }, "rate"},
		{"unknown weight unit", func(e *MetalEvent) { e.WeightUnit = "ounce" }, "weight_unit"},
		{"direction on purchase", func(e *MetalEvent) { e.AdjustDirection = AdjustIncrease }, "adjust_direction"},
		{"manual without direction", func(e *MetalEvent) { e.ReferenceType = ReferenceTypeManual }, "adjust_direction"},
		{"unknown reference type", func(e *MetalEvent) { e.ReferenceType = "Invoice" }, "reference_type"},
	}
	for _, c := range cases {
		e := purchaseEvent()
		c.mutate(&e)
		_, err := e.Resolve(false)
		var verr *ValidationError
		if !errors.As(err, &verr) || !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: got %v, want validation error", c.name, err)
		}
		if verr.Field != c.field {
			t.Fatalf("%s: field %q, want %q", c.name, verr.Field, c.field)
		}
	}
}
