package models

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	s := NewMemoryLedgerStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx LedgerTx) error {
		if _, created, err := tx.LockBucket(goldRawKey(), RateUnitGram, true); err != nil || !created {
			t.Fatalf("LockBucket: created=%v err=%v", created, err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction err = %v", err)
	}
	_ = s.Transaction(ctx, func(tx LedgerTx) error {
		if _, err := tx.FindBucket(goldRawKey()); !errors.Is(err, ErrBucketNotFound) {
			t.Fatalf("bucket survived rollback: %v", err)
		}
		if _, _, err := tx.LockBucket(goldRawKey(), RateUnitGram, false); !errors.Is(err, ErrBucketNotFound) {
			t.Fatalf("LockBucket without create: %v", err)
		}
		return nil
	})
}

func TestMemoryStoreMovements(t *testing.T) {
	s := NewMemoryLedgerStore()
	ctx := context.Background()
	day := func(n int) time.Time { return time.Date(2024, 1, n, 12, 0, 0, 0, time.UTC) }

	err := s.Transaction(ctx, func(tx LedgerTx) error {
		b, _, err := tx.LockBucket(goldRawKey(), RateUnitGram, true)
		if err != nil {
			return err
		}
		for i, m := range []*StockMovement{inMovement("1", "6000"), inMovement("2", "6000"), outMovement("1")} {
			m.BucketId = b.ID
			m.MovementDate = day(i + 1)
			if err := tx.CreateMovement(m); err != nil {
				return err
			}
		}
		dup := inMovement("1", "7000")
		dup.BucketId = b.ID
		if err := tx.CreateMovement(dup); !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("duplicate reference: %v", err)
		}

		all, err := tx.ListMovements(b.ID, MovementFilter{})
		if err != nil {
			return err
		}
		if len(all) != 3 || !all[0].MovementDate.Equal(day(3)) || !all[2].MovementDate.Equal(day(1)) {
			t.Fatalf("movements not newest first: %+v", all)
		}
		ranged, err := tx.ListMovements(b.ID, MovementFilter{From: day(2), To: day(2)})
		if err != nil {
			return err
		}
		if len(ranged) != 1 || ranged[0].ReferenceId != "p-2" {
			t.Fatalf("ranged movements = %+v", ranged)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
}

func TestMemoryStoreDueReactorFailures(t *testing.T) {
	s := NewMemoryLedgerStore()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	err := s.Transaction(ctx, func(tx LedgerTx) error {
		for _, f := range []*ReactorFailure{
			{ID: "b", Status: ReactorFailurePending, NextAttemptAt: now.Add(-time.Minute)},
			{ID: "a", Status: ReactorFailurePending, NextAttemptAt: now.Add(-time.Hour)},
			{ID: "later", Status: ReactorFailurePending, NextAttemptAt: now.Add(time.Hour)},
			{ID: "dead", Status: ReactorFailureDead, NextAttemptAt: now.Add(-time.Hour)},
		} {
			if err := tx.CreateReactorFailure(f); err != nil {
				return err
			}
		}
		due, err := tx.DueReactorFailures(now, 10)
		if err != nil {
			return err
		}
		if len(due) != 2 || due[0].ID != "a" || due[1].ID != "b" {
			t.Fatalf("due = %+v", due)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
}
