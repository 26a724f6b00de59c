package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	NegativeStockWarn   = "warn"
	NegativeStockReject = "reject"
)

// LedgerPolicy groups the env-driven switches of the metal ledger.
//
// Set via env:
// - LEDGER_NEGATIVE_STOCK_POLICY=warn|reject (default warn)
// - LEDGER_BUCKET_RATE_UNIT=gram|10gram|tola (default gram)
// - LEDGER_DRIFT_TOLERANCE=0.01
// - LEDGER_LEGACY_PARTICULAR_CLASSIFICATION=true
// - LEDGER_REDIS_BUCKET_LOCK=true (default true when redis is connected)
// - LEDGER_REPORT_CACHE_SECONDS=60 (0 disables)
type LedgerPolicy struct {
	NegativeStock                  string
	BucketRateUnit                 string
	DriftTolerance                 decimal.Decimal
	LegacyParticularClassification bool
	RedisBucketLock                bool
	ReportCacheTTL                 time.Duration
}

func GetLedgerPolicy() LedgerPolicy {
	p := LedgerPolicy{
		NegativeStock:                  NegativeStockWarn,
		BucketRateUnit:                 "gram",
		DriftTolerance:                 decimal.NewFromFloat(0.01),
		LegacyParticularClassification: envBool("LEDGER_LEGACY_PARTICULAR_CLASSIFICATION", false),
		RedisBucketLock:                envBool("LEDGER_REDIS_BUCKET_LOCK", true),
		ReportCacheTTL:                 time.Duration(intFromEnv("LEDGER_REPORT_CACHE_SECONDS", 60)) * time.Second,
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LEDGER_NEGATIVE_STOCK_POLICY")), NegativeStockReject) {
		p.NegativeStock = NegativeStockReject
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_BUCKET_RATE_UNIT")); v != "" {
		p.BucketRateUnit = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_DRIFT_TOLERANCE")); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && !d.IsNegative() {
			p.DriftTolerance = d
		}
	}
	return p
}

// RetryPolicy controls the reactor failure queue.
//
// Set via env:
// - LEDGER_RETRY_MAX_ATTEMPTS (default 10)
// - LEDGER_RETRY_BASE_BACKOFF_SECONDS (default 5)
// - LEDGER_RETRY_MAX_BACKOFF_SECONDS (default 600)
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func GetRetryPolicy() RetryPolicy {
	cfg := RetryPolicy{
		MaxAttempts: 10,
		BaseBackoff: 5 * time.Second,
		MaxBackoff:  10 * time.Minute,
	}
	if n := intFromEnv("LEDGER_RETRY_MAX_ATTEMPTS", 0); n > 0 {
		cfg.MaxAttempts = n
	}
	if n := intFromEnv("LEDGER_RETRY_BASE_BACKOFF_SECONDS", 0); n > 0 {
		cfg.BaseBackoff = time.Duration(n) * time.Second
	}
	if n := intFromEnv("LEDGER_RETRY_MAX_BACKOFF_SECONDS", 0); n > 0 {
		cfg.MaxBackoff = time.Duration(n) * time.Second
	}
	return cfg
}

func envBool(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

// EnvBool reads a boolean switch; unset or unrecognized values yield def.
func EnvBool(key string, def bool) bool {
	return envBool(key, def)
}
