package workflow

import (
	"time"

	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("metalstock-ledger")

// Ledger ties the store to the ledger policy and the optional Redis helpers. All reactor,
// reconciliation and query entry points hang off it.
type Ledger struct {
	store          models.LedgerStore
	logger         *logrus.Logger
	negativePolicy models.NegativeStockPolicy
	bucketRateUnit models.RateUnit
	tolerance      decimal.Decimal
	legacyClassify bool
	locker         BucketLocker
	cache          ReportCache
	now            func() time.Time
}

type Option func(*Ledger)

func WithLogger(logger *logrus.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPolicy applies env-driven policy (see config.GetLedgerPolicy).
func WithPolicy(p config.LedgerPolicy) Option {
	return func(l *Ledger) {
		if p.NegativeStock == config.NegativeStockReject {
			l.negativePolicy = models.NegativeStockReject
		} else {
			l.negativePolicy = models.NegativeStockWarn
		}
		if u, ok := models.ParseRateUnit(p.BucketRateUnit); ok {
			l.bucketRateUnit = u
		}
		if !p.DriftTolerance.IsNegative() {
			l.tolerance = p.DriftTolerance
		}
		l.legacyClassify = p.LegacyParticularClassification
	}
}

func WithNegativeStockPolicy(p models.NegativeStockPolicy) Option {
	return func(l *Ledger) { l.negativePolicy = p }
}

func WithBucketRateUnit(u models.RateUnit) Option {
	return func(l *Ledger) {
		if u.IsValid() {
			l.bucketRateUnit = u
		}
	}
}

func WithLegacyClassification(enabled bool) Option {
	return func(l *Ledger) { l.legacyClassify = enabled }
}

func WithBucketLocker(locker BucketLocker) Option {
	return func(l *Ledger) { l.locker = locker }
}

func WithReportCache(cache ReportCache) Option {
	return func(l *Ledger) { l.cache = cache }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func NewLedger(store models.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:          store,
		logger:         config.GetLogger(),
		negativePolicy: models.NegativeStockWarn,
		bucketRateUnit: models.RateUnitGram,
		tolerance:      decimal.NewFromFloat(0.01),
		locker:         noopBucketLocker{},
		cache:          noopReportCache{},
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewLedgerFromEnv builds a ledger on the global DB with env policy, plus the Redis bucket
// lock and report cache when Redis is connected.
func NewLedgerFromEnv() *Ledger {
	policy := config.GetLedgerPolicy()
	opts := []Option{WithPolicy(policy)}
	if config.GetRedisDB() != nil {
		if policy.RedisBucketLock {
			opts = append(opts, WithBucketLocker(NewRedisBucketLocker(config.GetRedisLock(), config.GetLogger())))
		}
		if policy.ReportCacheTTL > 0 {
			opts = append(opts, WithReportCache(NewRedisReportCache(policy.ReportCacheTTL)))
		}
	}
	return NewLedger(models.NewGormLedgerStore(config.GetDB()), opts...)
}

func (l *Ledger) Store() models.LedgerStore { return l.store }

func (l *Ledger) Logger() *logrus.Logger { return l.logger }

func (l *Ledger) NegativeStockPolicy() models.NegativeStockPolicy { return l.negativePolicy }

func (l *Ledger) DriftTolerance() decimal.Decimal { return l.tolerance }
