package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/stretchr/testify/require"
)

func TestSortedUniqueKeys(t *testing.T) {
	silver := models.BucketKey{MetalType: models.MetalTypeSilver, StockType: models.StockTypeRaw, Purity: "999"}
	gold24 := models.BucketKey{MetalType: models.MetalTypeGold, StockType: models.StockTypeRaw, Purity: "24K"}

	keys := sortedUniqueKeys([]models.BucketKey{silver, gold22Raw, gold24, gold22Raw, silver})
	require.Len(t, keys, 3)
	for i := 1; i < len(keys); i++ {
		require.True(t, keys[i-1].Less(keys[i]), "keys out of order: %s before %s", keys[i-1], keys[i])
	}
}

type failingLocker struct{ calls int }

func (f *failingLocker) Lock(context.Context, []models.BucketKey) (func(), error) {
	f.calls++
	return nil, errors.New("redis down")
}

func TestReactionProceedsWithoutDistributedLock(t *testing.T) {
	locker := &failingLocker{}
	l, _, _ := newTestLedger(t, WithBucketLocker(locker))

	_, err := l.PurchaseReactor().OnCreate(context.Background(), purchase("A", "10", "6000"))
	require.NoError(t, err)
	require.Equal(t, 1, locker.calls)
	requireDec(t, "10", bucketFor(t, l, gold22Raw).Quantity, "quantity")
}

type memoryReportCache struct {
	mu          sync.Mutex
	values      map[string][]byte
	hits        int
	invalidated int
	generation  int64
}

func newMemoryReportCache() *memoryReportCache {
	return &memoryReportCache{values: map[string][]byte{}}
}

func (c *memoryReportCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.values[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(raw, dest)
}

func (c *memoryReportCache) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = raw
	return nil
}

func (c *memoryReportCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = map[string][]byte{}
	c.invalidated++
	c.generation++
	return nil
}

func (c *memoryReportCache) Generation(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func TestReportCacheInvalidatedByReactions(t *testing.T) {
	cache := newMemoryReportCache()
	l, _, _ := newTestLedger(t, WithReportCache(cache))
	ctx := context.Background()

	_, err := l.PurchaseReactor().OnCreate(ctx, purchase("A", "10", "6000"))
	require.NoError(t, err)
	require.Equal(t, 1, cache.invalidated)

	total, err := l.TotalValueFor(ctx, models.MetalTypeGold)
	require.NoError(t, err)
	requireDec(t, "60000", total, "first total")
	total, err = l.TotalValueFor(ctx, models.MetalTypeGold)
	require.NoError(t, err)
	requireDec(t, "60000", total, "cached total")
	require.Equal(t, 1, cache.hits)

	_, err = l.PurchaseReactor().OnCreate(ctx, purchase("B", "5", "6600"))
	require.NoError(t, err)
	require.Equal(t, 2, cache.invalidated)

	total, err = l.TotalValueFor(ctx, models.MetalTypeGold)
	require.NoError(t, err)
	requireDec(t, "93000", total, "total after purchase")
	require.Equal(t, 1, cache.hits)
}

func TestReportComputedAcrossWriteIsNotServed(t *testing.T) {
	cache := newMemoryReportCache()
	l, _, _ := newTestLedger(t, WithReportCache(cache))
	ctx := context.Background()

	stale, err := cachedReport(ctx, l, "total:gold", func() (string, error) {
		// a reaction commits while the report is being computed
		require.NoError(t, cache.Invalidate(ctx))
		return "60000", nil
	})
	require.NoError(t, err)
	require.Equal(t, "60000", stale)

	fresh, err := cachedReport(ctx, l, "total:gold", func() (string, error) { return "93000", nil })
	require.NoError(t, err)
	require.Equal(t, "93000", fresh)
	require.Equal(t, 0, cache.hits)

	again, err := cachedReport(ctx, l, "total:gold", func() (string, error) { return "unused", nil })
	require.NoError(t, err)
	require.Equal(t, "93000", again)
	require.Equal(t, 1, cache.hits)
}
