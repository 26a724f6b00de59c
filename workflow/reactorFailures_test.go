package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/stretchr/testify/require"
)

type recordingAlerts struct {
	mu   sync.Mutex
	msgs []config.PubSubMessage
}

func (r *recordingAlerts) PublishLedgerAlert(_ context.Context, msg config.PubSubMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingAlerts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

var testRetryPolicy = config.RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Minute, MaxBackoff: 10 * time.Minute}

func loadFailure(t *testing.T, store models.LedgerStore, id string) *models.ReactorFailure {
	t.Helper()
	var f *models.ReactorFailure
	require.NoError(t, store.Transaction(context.Background(), func(tx models.LedgerTx) error {
		var err error
		f, err = tx.GetReactorFailure(id)
		return err
	}))
	return f
}

func TestDispatcherQueuesAndReplaysFailure(t *testing.T) {
	l, store, clock := newTestLedger(t, WithNegativeStockPolicy(models.NegativeStockReject))
	alerts := &recordingAlerts{}
	d := NewDispatcher(l, alerts, testRetryPolicy)
	ctx := context.Background()

	out := d.Created(ctx, models.ReferenceTypeSale, sale("S", "5"))
	require.ErrorIs(t, out.Err, models.ErrNegativeStock)
	require.NotEmpty(t, out.FailureId)
	require.Equal(t, 1, alerts.count())

	f := loadFailure(t, store, out.FailureId)
	require.Equal(t, models.ReactorFailurePending, f.Status)
	require.Equal(t, 1, f.Attempts)
	require.Equal(t, clock.Now().Add(time.Minute), f.NextAttemptAt)
	var snapshot models.MetalEvent
	require.NoError(t, json.Unmarshal([]byte(f.After), &snapshot))
	require.Equal(t, "S", snapshot.ReferenceId)

	summary, err := d.RetryFailedReactions(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Attempted, "not due yet")

	clock.Advance(2 * time.Minute)
	summary, err = d.RetryFailedReactions(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Rescheduled)
	f = loadFailure(t, store, out.FailureId)
	require.Equal(t, 2, f.Attempts)
	require.Equal(t, clock.Now().Add(2*time.Minute), f.NextAttemptAt)

	_, err = l.PurchaseReactor().OnCreate(ctx, purchase("A", "10", "6000"))
	require.NoError(t, err)
	clock.Advance(3 * time.Minute)
	summary, err = d.RetryFailedReactions(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)

	f = loadFailure(t, store, out.FailureId)
	require.Equal(t, models.ReactorFailureSucceeded, f.Status)
	require.Equal(t, 3, f.Attempts)
	requireDec(t, "5", bucketFor(t, l, gold22Raw).Quantity, "sale applied on replay")
}

func TestDispatcherMarksDeadAfterMaxAttempts(t *testing.T) {
	l, store, clock := newTestLedger(t, WithNegativeStockPolicy(models.NegativeStockReject))
	alerts := &recordingAlerts{}
	d := NewDispatcher(l, alerts, config.RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Minute, MaxBackoff: time.Hour})
	ctx := context.Background()

	out := d.Created(ctx, models.ReferenceTypeSale, sale("S", "5"))
	require.Error(t, out.Err)

	clock.Advance(time.Minute)
	summary, err := d.RetryFailedReactions(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Dead)
	require.Equal(t, models.ReactorFailureDead, loadFailure(t, store, out.FailureId).Status)
	require.Equal(t, 2, alerts.count(), "dead failures are announced again")

	clock.Advance(time.Hour)
	summary, err = d.RetryFailedReactions(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Attempted)
}

func TestDispatcherValidationFailureIsDead(t *testing.T) {
	l, store, _ := newTestLedger(t)
	d := NewDispatcher(l, nil, testRetryPolicy)

	bad := purchase("A", "0", "6000")
	out := d.Created(context.Background(), models.ReferenceTypeGoldSilverPurchase, bad)
	require.ErrorIs(t, out.Err, models.ErrValidation)
	require.Equal(t, models.ReactorFailureDead, loadFailure(t, store, out.FailureId).Status)
}

func TestDispatcherSuccessLeavesNoFailure(t *testing.T) {
	l, _, _ := newTestLedger(t)
	d := NewDispatcher(l, nil, testRetryPolicy)
	ctx := context.Background()

	out := d.Created(ctx, models.ReferenceTypeGoldSilverPurchase, purchase("A", "10", "6000"))
	require.NoError(t, out.Err)
	require.Empty(t, out.FailureId)

	out = d.Updated(ctx, models.ReferenceTypeGoldSilverPurchase, purchase("A", "10", "6000"), purchase("A", "7", "6000"))
	require.NoError(t, out.Err)
	out = d.Deleted(ctx, models.ReferenceTypeGoldSilverPurchase, purchase("A", "7", "6000"))
	require.NoError(t, out.Err)
	requireDec(t, "0", bucketFor(t, l, gold22Raw).Quantity, "quantity")
}

func TestLaterCallSupersedesQueuedFailure(t *testing.T) {
	l, store, clock := newTestLedger(t, WithNegativeStockPolicy(models.NegativeStockReject))
	d := NewDispatcher(l, nil, testRetryPolicy)
	ctx := context.Background()

	out := d.Created(ctx, models.ReferenceTypeSale, sale("S", "5"))
	require.ErrorIs(t, out.Err, models.ErrNegativeStock)
	stale := loadFailure(t, store, out.FailureId)

	deleted := d.Deleted(ctx, models.ReferenceTypeSale, sale("S", "5"))
	require.NoError(t, deleted.Err)
	require.True(t, deleted.Result.NotFound)
	require.Equal(t, 1, deleted.Result.Superseded)
	require.Equal(t, models.ReactorFailureSuperseded, loadFailure(t, store, out.FailureId).Status)

	_, err := l.PurchaseReactor().OnCreate(ctx, purchase("A", "10", "6000"))
	require.NoError(t, err)
	clock.Advance(time.Hour)
	summary, err := d.RetryFailedReactions(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Attempted)
	requireDec(t, "10", bucketFor(t, l, gold22Raw).Quantity, "deleted sale stays deleted")

	// a worker that claimed the failure before the delete must not apply it either
	summary = &RetrySummary{}
	d.replay(ctx, stale, summary)
	require.Equal(t, 1, summary.Superseded)
	require.Equal(t, models.ReactorFailureSuperseded, loadFailure(t, store, out.FailureId).Status)
	requireDec(t, "10", bucketFor(t, l, gold22Raw).Quantity, "stale replay skipped")
}

func TestReplayKeepsNewerFailuresOfReference(t *testing.T) {
	l, store, clock := newTestLedger(t, WithNegativeStockPolicy(models.NegativeStockReject))
	d := NewDispatcher(l, nil, testRetryPolicy)
	ctx := context.Background()

	created := d.Created(ctx, models.ReferenceTypeSale, sale("S", "5"))
	require.Error(t, created.Err)
	clock.Advance(time.Second)
	updated := d.Updated(ctx, models.ReferenceTypeSale, sale("S", "5"), sale("S", "3"))
	require.Error(t, updated.Err)

	_, err := l.PurchaseReactor().OnCreate(ctx, purchase("A", "10", "6000"))
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	summary, err := d.RetryFailedReactions(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 0, summary.Superseded)
	require.Equal(t, models.ReactorFailureSucceeded, loadFailure(t, store, created.FailureId).Status)
	require.Equal(t, models.ReactorFailureSucceeded, loadFailure(t, store, updated.FailureId).Status)
	requireDec(t, "7", bucketFor(t, l, gold22Raw).Quantity, "sale replayed then edited")
}

func TestRetryBackoff(t *testing.T) {
	cfg := config.RetryPolicy{MaxAttempts: 10, BaseBackoff: 30 * time.Second, MaxBackoff: 5 * time.Minute}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 5 * time.Minute},
		{40, 5 * time.Minute},
	}
	for _, c := range cases {
		require.Equal(t, c.want, RetryBackoff(c.attempt, cfg), "attempt %d", c.attempt)
	}
}
