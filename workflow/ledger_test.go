package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *models.MemoryLedgerStore, *testClock) {
	t.Helper()
	clock := newTestClock()
	store := models.NewMemoryLedgerStore()
	store.SetClock(clock.Now)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewLedger(store, opts...), store, clock
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

var gold22Raw = models.BucketKey{MetalType: models.MetalTypeGold, StockType: models.StockTypeRaw, Purity: "22K"}

func purchase(id, qty, rate string) models.MetalEvent {
	return models.MetalEvent{
		ReferenceId:    id,
		MetalType:      "gold",
		Classification: "raw",
		Purity:         "22K",
		Quantity:       dec(qty),
		Rate:           dec(rate),
		EventDate:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func sale(id, qty string) models.MetalEvent {
	return purchase(id, qty, "0")
}

func bucketFor(t *testing.T, l *Ledger, key models.BucketKey) *models.StockBucket {
	t.Helper()
	b, err := l.GetBucket(context.Background(), key)
	require.NoError(t, err)
	return b
}
