package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/sirupsen/logrus"
)

// ReportCache memoizes read-side valuation results. Every bucket write invalidates it.
//
// Invalidate must advance Generation. Values are stored under their generation, so a report
// computed before a write and stored after it is never served.
type ReportCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Invalidate(ctx context.Context) error
	Generation(ctx context.Context) (int64, error)
}

type noopReportCache struct{}

func (noopReportCache) Get(context.Context, string, any) (bool, error) { return false, nil }
func (noopReportCache) Set(context.Context, string, any) error         { return nil }
func (noopReportCache) Invalidate(context.Context) error               { return nil }
func (noopReportCache) Generation(context.Context) (int64, error)      { return 0, nil }

const (
	reportCachePrefix        = "ledger:report:"
	reportCacheIndexKey      = "ledger:report:keys"
	reportCacheGenerationKey = "ledger:report:generation"
)

// RedisReportCache stores JSON values under ledger:report:* and tracks the keys in a set so
// Invalidate can drop them all.
type RedisReportCache struct {
	ttl time.Duration
}

func NewRedisReportCache(ttl time.Duration) *RedisReportCache {
	return &RedisReportCache{ttl: ttl}
}

func (c *RedisReportCache) Get(_ context.Context, key string, dest any) (bool, error) {
	return config.GetRedisObject(reportCachePrefix+key, dest)
}

func (c *RedisReportCache) Set(_ context.Context, key string, value any) error {
	if err := config.SetRedisObject(reportCachePrefix+key, value, c.ttl); err != nil {
		return err
	}
	return config.AddRedisSet(reportCacheIndexKey, reportCachePrefix+key)
}

func (c *RedisReportCache) Invalidate(_ context.Context) error {
	if _, err := config.IncrRedisCounter(reportCacheGenerationKey); err != nil {
		return err
	}
	keys, err := config.GetRedisSetMembers(reportCacheIndexKey)
	if err != nil {
		return err
	}
	return config.RemoveRedisKey(append(keys, reportCacheIndexKey)...)
}

func (c *RedisReportCache) Generation(_ context.Context) (int64, error) {
	return config.GetRedisCounter(reportCacheGenerationKey)
}

func cachedReport[T any](ctx context.Context, l *Ledger, key string, compute func() (T, error)) (T, error) {
	gen, err := l.cache.Generation(ctx)
	if err != nil {
		l.logger.WithFields(logrus.Fields{"cache_key": key, "error": err.Error()}).Warn("ledger.report_cache.generation_failed")
		return compute()
	}
	key = fmt.Sprintf("%s@%d", key, gen)

	var cached T
	if ok, err := l.cache.Get(ctx, key, &cached); err != nil {
		l.logger.WithFields(logrus.Fields{"cache_key": key, "error": err.Error()}).Warn("ledger.report_cache.get_failed")
	} else if ok {
		return cached, nil
	}

	value, err := compute()
	if err != nil {
		return value, err
	}
	if err := l.cache.Set(ctx, key, value); err != nil {
		l.logger.WithFields(logrus.Fields{"cache_key": key, "error": err.Error()}).Warn("ledger.report_cache.set_failed")
	}
	return value, nil
}

func (l *Ledger) invalidateReports(ctx context.Context) {
	if err := l.cache.Invalidate(ctx); err != nil {
		config.LogError(l.logger, "workflow", "invalidateReports", "report cache invalidation", nil, err)
	}
}
