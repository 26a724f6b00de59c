package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRateConversionRoundTrip(t *testing.T) {
	tol := d("0.000001")
	for _, unit := range []RateUnit{RateUnitGram, RateUnitTenGram, RateUnitTola} {
		for _, v := range []string{"0", "1", "6000", "69985.8", "123456.7891"} {
			got := RateFromPerGram(RateToPerGram(d(v), unit), unit)
			if got.Sub(d(v)).Abs().GreaterThan(tol) {
				t.Fatalf("round trip %s per %s: got %s", v, unit, got)
			}
		}
	}
}

func TestRatePerTolaBackToPerGram(t *testing.T) {
	tol := d("0.000001")
	for _, unit := range []RateUnit{RateUnitGram, RateUnitTenGram, RateUnitTola} {
		for _, v := range []string{"0", "1", "6000", "60000", "69985.8", "123456.7891"} {
			x := d(v)
			want := RateToPerGram(x, unit)
			got := RateToPerGram(RateToPerTola(x, unit), RateUnitTola)
			if got.Sub(want).Abs().GreaterThan(tol) {
				t.Fatalf("%s per %s via tola: got %s per gram, want %s", v, unit, got, want)
			}
			if unit == RateUnitGram && got.Sub(x).Abs().GreaterThan(tol) {
				t.Fatalf("%s per gram via tola: got %s", v, got)
			}
		}
	}
}

func TestRateToPerTola(t *testing.T) {
	cases := []struct {
		value string
		unit  RateUnit
		want  string
	}{
		{"6000", RateUnitGram, "69985.8"},
		{"60000", RateUnitTenGram, "69985.8"},
		{"70000", RateUnitTola, "70000"},
		{"500", RateUnit("ounce"), "500"},
	}
	for _, c := range cases {
		got := RateToPerTola(d(c.value), c.unit)
		if !got.Equal(d(c.want)) {
			t.Fatalf("RateToPerTola(%s, %s) = %s, want %s", c.value, c.unit, got, c.want)
		}
	}
}

func TestRateToPerGram(t *testing.T) {
	if got := RateToPerGram(d("60000"), RateUnitTenGram); !got.Equal(d("6000")) {
		t.Fatalf("10gram: got %s", got)
	}
	if got := RateToPerGram(d("116643"), RateUnitTola); !got.Equal(d("10000")) {
		t.Fatalf("tola: got %s", got)
	}
	if got := RateToPerGram(d("42"), RateUnit("")); !got.Equal(d("42")) {
		t.Fatalf("unknown unit must pass through, got %s", got)
	}
}

func TestConvertRate(t *testing.T) {
	if got := ConvertRate(d("60000"), RateUnitTenGram, RateUnitGram); !got.Equal(d("6000")) {
		t.Fatalf("10gram->gram: got %s", got)
	}
	if got := ConvertRate(d("6000"), RateUnitGram, RateUnitTola); !got.Equal(d("69985.8")) {
		t.Fatalf("gram->tola: got %s", got)
	}
}

func TestWeightConversion(t *testing.T) {
	if got := WeightToGrams(d("2"), RateUnitTola); !got.Equal(d("23.3286")) {
		t.Fatalf("2 tola in grams: got %s", got)
	}
	if got := GramsToWeight(WeightToGrams(d("3.5"), RateUnitTola), RateUnitTola); !got.Equal(d("3.5")) {
		t.Fatalf("tola round trip: got %s", got)
	}
	if got := GramsToWeight(d("25"), RateUnitTenGram); !got.Equal(d("2.5")) {
		t.Fatalf("grams to 10gram: got %s", got)
	}
}

func TestParseRateUnit(t *testing.T) {
	cases := map[string]RateUnit{
		"gram":     RateUnitGram,
		" G ":      RateUnitGram,
		"10 gram":  RateUnitTenGram,
		"10g":      RateUnitTenGram,
		"Tola":     RateUnitTola,
		"per tola": RateUnitTola,
	}
	for in, want := range cases {
		got, ok := ParseRateUnit(in)
		if !ok || got != want {
			t.Fatalf("ParseRateUnit(%q) = %q,%v want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseRateUnit("ounce"); ok {
		t.Fatalf("ounce must not parse")
	}
}

func TestParsePurity(t *testing.T) {
	cases := map[string]Purity{
		"22k":      "22K",
		"22 K":     "22K",
		"22KT":     "22K",
		"22":       "22K",
		"24 karat": "24K",
		" 999 ":    "999",
		"fine":     "FINE",
	}
	for in, want := range cases {
		if got := ParsePurity(in); got != want {
			t.Fatalf("ParsePurity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKaratFactor(t *testing.T) {
	if got := KaratFactor("22k"); !got.Equal(d("0.98")) {
		t.Fatalf("22k factor = %s", got)
	}
	if got := KaratFactor("21K"); !got.Equal(DefaultKaratFactor) {
		t.Fatalf("unknown purity factor = %s", got)
	}
	if got := FineWeight(d("10"), "18K"); !got.Equal(d("7.5")) {
		t.Fatalf("fine weight of 10g 18K = %s", got)
	}
}
