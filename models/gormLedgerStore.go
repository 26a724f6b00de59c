package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/metalstock_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedgerStore persists the ledger through gorm (MySQL or Postgres).
type GormLedgerStore struct {
	db *gorm.DB
}

// NewGormLedgerStore wraps db. Passing an open transaction makes every ledger Transaction a
// savepoint inside it, so ledger writes commit or roll back with the caller's own writes.
func NewGormLedgerStore(db *gorm.DB) *GormLedgerStore {
	return &GormLedgerStore{db: db}
}

func (s *GormLedgerStore) Transaction(ctx context.Context, fn func(tx LedgerTx) error) error {
	if s == nil || s.db == nil {
		return ErrDBNotInitialized
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormLedgerTx{ctx: ctx, db: tx})
	})
}

type gormLedgerTx struct {
	ctx context.Context
	db  *gorm.DB
}

var _ LedgerTx = (*gormLedgerTx)(nil)

func (t *gormLedgerTx) Context() context.Context { return t.ctx }

func bucketKeyScope(key BucketKey) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("metal_type = ? AND stock_type = ? AND purity = ? AND location = ?",
			key.MetalType, key.StockType, key.Purity, key.Location)
	}
}

func (t *gormLedgerTx) lockByKey(key BucketKey) (*StockBucket, error) {
	var bucket StockBucket
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).Scopes(bucketKeyScope(key)).First(&bucket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: key=%s", ErrBucketNotFound, key)
		}
		return nil, err
	}
	return &bucket, nil
}

// LockBucket selects the row FOR UPDATE. On a miss it inserts inside a savepoint; a
// concurrent insert of the same key surfaces as a duplicate key, after which the winner's
// row is locked instead.
func (t *gormLedgerTx) LockBucket(key BucketKey, rateUnit RateUnit, create bool) (*StockBucket, bool, error) {
	key = key.Normalize()
	bucket, err := t.lockByKey(key)
	if err == nil {
		return bucket, false, nil
	}
	if !errors.Is(err, ErrBucketNotFound) || !create {
		return nil, false, err
	}

	bucket = NewStockBucket(key, rateUnit)
	err = t.db.Transaction(func(sp *gorm.DB) error {
		return sp.Create(bucket).Error
	})
	if err == nil {
		return bucket, true, nil
	}
	if !utils.IsDuplicateKeyErr(err) {
		return nil, false, err
	}
	bucket, err = t.lockByKey(key)
	if err != nil {
		return nil, false, err
	}
	return bucket, false, nil
}

func (t *gormLedgerTx) LockBucketByID(id int) (*StockBucket, error) {
	var bucket StockBucket
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&bucket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: bucket_id=%d", ErrBucketNotFound, id)
		}
		return nil, err
	}
	return &bucket, nil
}

func (t *gormLedgerTx) FindBucket(key BucketKey) (*StockBucket, error) {
	key = key.Normalize()
	var bucket StockBucket
	if err := t.db.Scopes(bucketKeyScope(key)).First(&bucket).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: key=%s", ErrBucketNotFound, key)
		}
		return nil, err
	}
	return &bucket, nil
}

func (t *gormLedgerTx) GetBucket(id int) (*StockBucket, error) {
	var bucket StockBucket
	if err := t.db.Where("id = ?", id).First(&bucket).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: bucket_id=%d", ErrBucketNotFound, id)
		}
		return nil, err
	}
	return &bucket, nil
}

func (t *gormLedgerTx) ListBuckets(filter BucketFilter) ([]*StockBucket, error) {
	dbCtx := t.db.Model(&StockBucket{})
	if filter.MetalType != "" {
		dbCtx = dbCtx.Where("metal_type = ?", filter.MetalType)
	}
	if filter.StockType != "" {
		dbCtx = dbCtx.Where("stock_type = ?", filter.StockType)
	}
	if filter.Purity != "" {
		dbCtx = dbCtx.Where("purity = ?", ParsePurity(string(filter.Purity)))
	}
	if filter.Location != nil {
		dbCtx = dbCtx.Where("location = ?", *filter.Location)
	}
	var buckets []*StockBucket
	if err := dbCtx.Order("metal_type, stock_type, purity, location").Find(&buckets).Error; err != nil {
		return nil, err
	}
	return buckets, nil
}

func (t *gormLedgerTx) SaveBucket(b *StockBucket) error {
	return t.db.Save(b).Error
}

func (t *gormLedgerTx) FindMovement(bucketID int, refType ReferenceType, refID string) (*StockMovement, error) {
	var m StockMovement
	err := t.db.Where("bucket_id = ? AND reference_type = ? AND reference_id = ?", bucketID, refType, refID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: bucket_id=%d ref=%s:%s", ErrMovementNotFound, bucketID, refType, refID)
		}
		return nil, err
	}
	return &m, nil
}

func (t *gormLedgerTx) FindMovementsByReference(refType ReferenceType, refID string) ([]*StockMovement, error) {
	var movements []*StockMovement
	err := t.db.Where("reference_type = ? AND reference_id = ?", refType, refID).
		Order("bucket_id, id").
		Find(&movements).Error
	return movements, err
}

func (t *gormLedgerTx) CreateMovement(m *StockMovement) error {
	err := t.db.Transaction(func(sp *gorm.DB) error {
		return sp.Create(m).Error
	})
	if err != nil && utils.IsDuplicateKeyErr(err) {
		return fmt.Errorf("%w: bucket_id=%d ref=%s:%s", ErrDuplicateKey, m.BucketId, m.ReferenceType, m.ReferenceId)
	}
	return err
}

func (t *gormLedgerTx) UpdateMovement(m *StockMovement) error {
	return t.db.Save(m).Error
}

func (t *gormLedgerTx) DeleteMovement(id int) error {
	result := t.db.Where("id = ?", id).Delete(&StockMovement{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: movement_id=%d", ErrMovementNotFound, id)
	}
	return nil
}

func (t *gormLedgerTx) ListMovements(bucketID int, filter MovementFilter) ([]*StockMovement, error) {
	dbCtx := t.db.Where("bucket_id = ?", bucketID)
	if !filter.From.IsZero() {
		dbCtx = dbCtx.Where("movement_date >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		dbCtx = dbCtx.Where("movement_date <= ?", filter.To)
	}
	var movements []*StockMovement
	if err := dbCtx.Order("movement_date DESC, id DESC").Find(&movements).Error; err != nil {
		return nil, err
	}
	return movements, nil
}

func (t *gormLedgerTx) CreateReactorFailure(f *ReactorFailure) error {
	return t.db.Create(f).Error
}

func (t *gormLedgerTx) SaveReactorFailure(f *ReactorFailure) error {
	return t.db.Save(f).Error
}

func (t *gormLedgerTx) GetReactorFailure(id string) (*ReactorFailure, error) {
	var f ReactorFailure
	if err := t.db.Where("id = ?", id).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &f, nil
}

// DueReactorFailures locks the due rows so two retry workers never replay the same failure.
func (t *gormLedgerTx) DueReactorFailures(now time.Time, limit int) ([]*ReactorFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	var failures []*ReactorFailure
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND next_attempt_at <= ?", ReactorFailurePending, now).
		Order("next_attempt_at, created_at").
		Limit(limit).
		Find(&failures).Error
	return failures, err
}

func (t *gormLedgerTx) OpenReactorFailures(refType ReferenceType, refID string) ([]*ReactorFailure, error) {
	var failures []*ReactorFailure
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reference_type = ? AND reference_id = ? AND status IN ?", refType, refID,
			[]ReactorFailureStatus{ReactorFailurePending, ReactorFailureDead}).
		Order("created_at, id").
		Find(&failures).Error
	return failures, err
}

func (t *gormLedgerTx) CreateIdempotencyKey(k *IdempotencyKey) error {
	err := t.db.Transaction(func(sp *gorm.DB) error {
		return sp.Create(k).Error
	})
	if err != nil && utils.IsDuplicateKeyErr(err) {
		return fmt.Errorf("%w: handler=%s message_id=%s", ErrDuplicateKey, k.HandlerName, k.MessageId)
	}
	return err
}

func (t *gormLedgerTx) FindIdempotencyKey(handlerName, messageId string) (*IdempotencyKey, error) {
	var k IdempotencyKey
	if err := t.db.Where("handler_name = ? AND message_id = ?", handlerName, messageId).First(&k).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &k, nil
}

func (t *gormLedgerTx) SaveIdempotencyKey(k *IdempotencyKey) error {
	return t.db.Save(k).Error
}
