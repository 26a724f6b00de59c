package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/sirupsen/logrus"
)

// BucketLocker serializes work on bucket keys across service instances. It is an optimization
// in front of the store's row locks; the store alone keeps buckets consistent.
type BucketLocker interface {
	Lock(ctx context.Context, keys []models.BucketKey) (unlock func(), err error)
}

type noopBucketLocker struct{}

func (noopBucketLocker) Lock(context.Context, []models.BucketKey) (func(), error) {
	return func() {}, nil
}

const bucketLockPrefix = "ledger:bucket"

// RedisBucketLocker takes one redislock per bucket key, in key order.
type RedisBucketLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
	logger *logrus.Logger
}

func NewRedisBucketLocker(client *redislock.Client, logger *logrus.Logger) *RedisBucketLocker {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &RedisBucketLocker{
		client: client,
		ttl:    30 * time.Second,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
		logger: logger,
	}
}

func sortedUniqueKeys(keys []models.BucketKey) []models.BucketKey {
	seen := map[models.BucketKey]bool{}
	out := make([]models.BucketKey, 0, len(keys))
	for _, k := range keys {
		k = k.Normalize()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (r *RedisBucketLocker) Lock(ctx context.Context, keys []models.BucketKey) (func(), error) {
	if r == nil || r.client == nil {
		return func() {}, nil
	}
	var held []*redislock.Lock
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			// background ctx: release must still happen when the request ctx is cancelled
			if err := held[i].Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				config.LogError(r.logger, "workflow", "RedisBucketLocker.Release", "release bucket lock", held[i].Key(), err)
			}
		}
	}
	for _, k := range sortedUniqueKeys(keys) {
		lockKey := fmt.Sprintf("%s:%s", bucketLockPrefix, k)
		lock, err := r.client.Obtain(ctx, lockKey, r.ttl, &redislock.Options{RetryStrategy: r.retry})
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) {
				return func() {}, fmt.Errorf("could not obtain bucket lock %s: %w", lockKey, err)
			}
			return func() {}, err
		}
		held = append(held, lock)
	}
	return release, nil
}

// lockBuckets takes the distributed lock when configured. A failure is logged and the caller
// proceeds on row locks alone.
func (l *Ledger) lockBuckets(ctx context.Context, keys []models.BucketKey) func() {
	unlock, err := l.locker.Lock(ctx, keys)
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"bucket_keys": len(keys),
			"error":       err.Error(),
		}).Warn("ledger.bucket_lock.unavailable")
		return func() {}
	}
	return unlock
}
