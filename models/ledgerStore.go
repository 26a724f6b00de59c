package models

import (
	"context"
	"time"
)

// LedgerStore runs units of work against the ledger tables. Every bucket mutation happens
// inside Transaction; an error returned by fn rolls the whole unit back.
type LedgerStore interface {
	Transaction(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the transactional view handed to Transaction callbacks.
//
// LockBucket/LockBucketByID hold the bucket exclusively until the transaction ends. Callers
// locking several buckets must do so in BucketKey order.
type LedgerTx interface {
	Context() context.Context

	// LockBucket locks the bucket for key. With create set, a missing bucket is inserted with
	// rateUnit and returned locked (created=true); otherwise ErrBucketNotFound.
	LockBucket(key BucketKey, rateUnit RateUnit, create bool) (bucket *StockBucket, created bool, err error)
	LockBucketByID(id int) (*StockBucket, error)
	FindBucket(key BucketKey) (*StockBucket, error)
	GetBucket(id int) (*StockBucket, error)
	ListBuckets(filter BucketFilter) ([]*StockBucket, error)
	SaveBucket(b *StockBucket) error

	FindMovement(bucketID int, refType ReferenceType, refID string) (*StockMovement, error)
	FindMovementsByReference(refType ReferenceType, refID string) ([]*StockMovement, error)
	// CreateMovement returns an error wrapping ErrDuplicateKey when the reference already has a
	// movement in the bucket; the transaction stays usable.
	CreateMovement(m *StockMovement) error
	UpdateMovement(m *StockMovement) error
	DeleteMovement(id int) error
	// ListMovements orders by movement_date DESC, id DESC.
	ListMovements(bucketID int, filter MovementFilter) ([]*StockMovement, error)

	CreateReactorFailure(f *ReactorFailure) error
	SaveReactorFailure(f *ReactorFailure) error
	GetReactorFailure(id string) (*ReactorFailure, error)
	DueReactorFailures(now time.Time, limit int) ([]*ReactorFailure, error)
	// OpenReactorFailures lists the reference's pending and dead failures, oldest first.
	OpenReactorFailures(refType ReferenceType, refID string) ([]*ReactorFailure, error)

	// CreateIdempotencyKey wraps ErrDuplicateKey on (handler_name, message_id) conflicts.
	CreateIdempotencyKey(k *IdempotencyKey) error
	FindIdempotencyKey(handlerName, messageId string) (*IdempotencyKey, error)
	SaveIdempotencyKey(k *IdempotencyKey) error
}
