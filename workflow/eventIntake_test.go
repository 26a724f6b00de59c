package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/stretchr/testify/require"
)

func ledgerMessage(t *testing.T, action string, before, after *models.MetalEvent) config.PubSubMessage {
	t.Helper()
	m := config.PubSubMessage{ReferenceType: "gold-silver-purchase", ReferenceId: "A", Action: action}
	if before != nil {
		raw, err := json.Marshal(before)
		require.NoError(t, err)
		m.OldObj = raw
	}
	if after != nil {
		raw, err := json.Marshal(after)
		require.NoError(t, err)
		m.NewObj = raw
	}
	return m
}

func TestDecodeLedgerMessage(t *testing.T) {
	e := purchase("", "10", "6000")
	action, rt, before, after, err := DecodeLedgerMessage(ledgerMessage(t, "Create", nil, &e))
	require.NoError(t, err)
	require.Equal(t, models.ReactionActionCreate, action)
	require.Equal(t, models.ReferenceTypeGoldSilverPurchase, rt)
	require.Nil(t, before)
	require.Equal(t, "A", after.ReferenceId, "reference id falls back to the message")

	bad := ledgerMessage(t, "create", nil, nil)
	bad.NewObj = json.RawMessage(`{"quantity": "lots"}`)
	_, _, _, _, err = DecodeLedgerMessage(bad)
	require.ErrorIs(t, err, models.ErrValidation)

	_, _, _, _, err = DecodeLedgerMessage(config.PubSubMessage{ReferenceType: "Invoice", Action: "create"})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestProcessLedgerMessageOncePerMessageId(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	before := purchase("A", "10", "6000")
	after := purchase("A", "8", "6000")

	_, skipped, err := l.ProcessLedgerMessage(ctx, "m1", ledgerMessage(t, "create", nil, &before))
	require.NoError(t, err)
	require.False(t, skipped)

	update := ledgerMessage(t, "update", &before, &after)
	res, skipped, err := l.ProcessLedgerMessage(ctx, "m2", update)
	require.NoError(t, err)
	require.False(t, skipped)
	state, _ := res.Bucket(gold22Raw)
	requireDec(t, "8", state.Quantity, "quantity after update")

	res, skipped, err = l.ProcessLedgerMessage(ctx, "m2", update)
	require.NoError(t, err)
	require.True(t, skipped)
	require.Nil(t, res)
	requireDec(t, "8", bucketFor(t, l, gold22Raw).Quantity, "redelivery is a no-op")
}

func TestProcessLedgerMessagePoison(t *testing.T) {
	l, _, _ := newTestLedger(t)
	_, _, err := l.ProcessLedgerMessage(context.Background(), "m1", ledgerMessage(t, "explode", nil, nil))
	require.ErrorIs(t, err, ErrPoisonMessage)
	require.ErrorIs(t, err, models.ErrValidation)

	_, _, err = l.ProcessLedgerMessage(context.Background(), "", config.PubSubMessage{})
	require.ErrorIs(t, err, ErrPoisonMessage)
}

func TestProcessLedgerMessageInProgress(t *testing.T) {
	l, store, clock := newTestLedger(t)
	ctx := context.Background()
	e := purchase("A", "10", "6000")
	msg := ledgerMessage(t, "create", nil, &e)

	require.NoError(t, store.Transaction(ctx, func(tx models.LedgerTx) error {
		_, err := BeginIdempotency(tx, LedgerEventsHandler, "m1", clock.Now())
		return err
	}))

	_, _, err := l.ProcessLedgerMessage(ctx, "m1", msg)
	require.ErrorIs(t, err, ErrIdempotencyInProgress)

	// a worker that died mid-message is taken over once the key goes stale
	clock.Advance(6 * time.Minute)
	_, skipped, err := l.ProcessLedgerMessage(ctx, "m1", msg)
	require.NoError(t, err)
	require.False(t, skipped)
	requireDec(t, "10", bucketFor(t, l, gold22Raw).Quantity, "quantity")
}

func TestProcessLedgerMessageRetriesAfterFailure(t *testing.T) {
	l, _, _ := newTestLedger(t, WithNegativeStockPolicy(models.NegativeStockReject))
	ctx := context.Background()
	s := sale("S", "5")
	msg := config.PubSubMessage{ReferenceType: "Sale", ReferenceId: "S", Action: "create"}
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	msg.NewObj = raw

	_, _, err = l.ProcessLedgerMessage(ctx, "m1", msg)
	require.ErrorIs(t, err, models.ErrNegativeStock)
	require.NotErrorIs(t, err, ErrPoisonMessage)

	_, err = l.PurchaseReactor().OnCreate(ctx, purchase("A", "10", "6000"))
	require.NoError(t, err)
	_, skipped, err := l.ProcessLedgerMessage(ctx, "m1", msg)
	require.NoError(t, err)
	require.False(t, skipped, "a failed message is processed again on redelivery")
	requireDec(t, "5", bucketFor(t, l, gold22Raw).Quantity, "quantity")
}
