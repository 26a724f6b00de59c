package models

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// RateUnit is the weight basis a rate (price per weight) or a weight is expressed in.
type RateUnit string

const (
	RateUnitGram    RateUnit = "gram"
	RateUnitTenGram RateUnit = "10gram"
	RateUnitTola    RateUnit = "tola"
)

func (u RateUnit) IsValid() bool {
	return u == RateUnitGram || u == RateUnitTenGram || u == RateUnitTola
}

// ParseRateUnit normalizes common spellings. Unknown input returns ok=false.
func ParseRateUnit(s string) (RateUnit, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "")) {
	case "g", "gm", "gram", "grams", "pergram":
		return RateUnitGram, true
	case "10g", "10gm", "10gram", "10grams", "tengram":
		return RateUnitTenGram, true
	case "tola", "tolas", "pertola":
		return RateUnitTola, true
	}
	return "", false
}

// Canonical conversion constants. Every module converts with these values only.
var (
	GramsPerTola    = decimal.RequireFromString("11.6643")
	GramsPerTenGram = decimal.NewFromInt(10)

	// DefaultKaratFactor applies to purities missing from KaratFactors.
	DefaultKaratFactor = decimal.NewFromInt(1)
)

// KaratFactors is the canonical purity table (24K-equivalent multiplier).
var KaratFactors = map[Purity]decimal.Decimal{
	"24K": decimal.RequireFromString("1.00"),
	"23K": decimal.RequireFromString("0.99"),
	"22K": decimal.RequireFromString("0.98"),
	"18K": decimal.RequireFromString("0.75"),
	"14K": decimal.RequireFromString("0.58"),
}

const conversionPrecision = 10

// gramsPer returns how many grams one unit weighs; unknown units weigh one gram.
func gramsPer(unit RateUnit) decimal.Decimal {
	switch unit {
	case RateUnitTenGram:
		return GramsPerTenGram
	case RateUnitTola:
		return GramsPerTola
	default:
		return decimal.NewFromInt(1)
	}
}

// RateToPerGram converts a price quoted per unit into a price per gram.
// gram → v, 10gram → v/10, tola → v/11.6643; unknown unit → v.
func RateToPerGram(value decimal.Decimal, unit RateUnit) decimal.Decimal {
	return value.DivRound(gramsPer(unit), conversionPrecision)
}

// RateToPerTola converts a price quoted per unit into a price per tola.
// tola → v, 10gram → (v/10)×11.6643, gram → v×11.6643; unknown unit → v.
func RateToPerTola(value decimal.Decimal, unit RateUnit) decimal.Decimal {
	if !unit.IsValid() || unit == RateUnitTola {
		return value
	}
	return RateToPerGram(value, unit).Mul(GramsPerTola)
}

// RateFromPerGram expresses a per-gram price in unit.
func RateFromPerGram(perGram decimal.Decimal, unit RateUnit) decimal.Decimal {
	return perGram.Mul(gramsPer(unit))
}

// ConvertRate re-expresses a rate quoted per from into a rate per to.
func ConvertRate(value decimal.Decimal, from, to RateUnit) decimal.Decimal {
	if from == to || !from.IsValid() || !to.IsValid() {
		return value
	}
	return RateFromPerGram(RateToPerGram(value, from), to)
}

// WeightToGrams converts a weight in unit to grams; unknown unit → unchanged.
func WeightToGrams(weight decimal.Decimal, unit RateUnit) decimal.Decimal {
	return weight.Mul(gramsPer(unit))
}

// GramsToWeight converts grams to unit; unknown unit → unchanged.
func GramsToWeight(grams decimal.Decimal, unit RateUnit) decimal.Decimal {
	return grams.DivRound(gramsPer(unit), conversionPrecision)
}

// Purity is a karat label normalized to the "<n>K" form.
type Purity string

var purityPattern = regexp.MustCompile(`^(\d{1,2})\s*(k|kt|karat|carat|ct)?$`)

// ParsePurity normalizes "22k", "22 K", "22KT" and "22" to "22K". Anything else is kept
// upper-cased and trimmed so non-karat labels (e.g. silver fineness "999") still key a bucket.
func ParsePurity(s string) Purity {
	v := strings.ToLower(strings.TrimSpace(s))
	if m := purityPattern.FindStringSubmatch(v); m != nil {
		return Purity(m[1] + "K")
	}
	return Purity(strings.ToUpper(v))
}

// KaratFactor returns the 24K-equivalent factor; unknown purity → DefaultKaratFactor.
func KaratFactor(p Purity) decimal.Decimal {
	if f, ok := KaratFactors[ParsePurity(string(p))]; ok {
		return f
	}
	return DefaultKaratFactor
}

// FineWeight is the 24K-equivalent weight of grams at purity p.
func FineWeight(grams decimal.Decimal, p Purity) decimal.Decimal {
	return grams.Mul(KaratFactor(p))
}
