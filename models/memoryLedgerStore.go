package models

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/metalstock_backend/utils"
)

// MemoryLedgerStore keeps the ledger in process memory. Transactions are serialized by one
// mutex and work on a copy of the state that replaces the committed state only when fn
// succeeds. Used by tests and the dry-run mode of the tools.
type MemoryLedgerStore struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

type memoryState struct {
	buckets        map[int]*StockBucket
	movements      map[int]*StockMovement
	failures       map[string]*ReactorFailure
	idempotency    map[string]*IdempotencyKey
	nextBucketId   int
	nextMovementId int
	nextIdemId     int
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		state: &memoryState{
			buckets:     map[int]*StockBucket{},
			movements:   map[int]*StockMovement{},
			failures:    map[string]*ReactorFailure{},
			idempotency: map[string]*IdempotencyKey{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		buckets:        make(map[int]*StockBucket, len(s.buckets)),
		movements:      make(map[int]*StockMovement, len(s.movements)),
		failures:       make(map[string]*ReactorFailure, len(s.failures)),
		idempotency:    make(map[string]*IdempotencyKey, len(s.idempotency)),
		nextBucketId:   s.nextBucketId,
		nextMovementId: s.nextMovementId,
		nextIdemId:     s.nextIdemId,
	}
	for id, b := range s.buckets {
		c.buckets[id] = b.Clone()
	}
	for id, m := range s.movements {
		c.movements[id] = m.Clone()
	}
	for id, f := range s.failures {
		c.failures[id] = f.Clone()
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v.Clone()
	}
	return c
}

func (s *MemoryLedgerStore) Transaction(ctx context.Context, fn func(tx LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memoryLedgerTx{ctx: ctx, state: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// SetClock replaces the timestamp source.
func (s *MemoryLedgerStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// CorruptBucket overwrites a bucket's persisted aggregate without touching its movements.
// It exists to exercise drift detection.
func (s *MemoryLedgerStore) CorruptBucket(id int, mutate func(b *StockBucket)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.state.buckets[id]
	if !ok {
		return fmt.Errorf("%w: bucket_id=%d", ErrBucketNotFound, id)
	}
	mutate(b)
	return nil
}

type memoryLedgerTx struct {
	ctx   context.Context
	state *memoryState
	now   func() time.Time
}

var _ LedgerTx = (*memoryLedgerTx)(nil)

func (t *memoryLedgerTx) Context() context.Context { return t.ctx }

func (t *memoryLedgerTx) bucketByKey(key BucketKey) *StockBucket {
	for _, b := range t.state.buckets {
		if b.Key() == key {
			return b
		}
	}
	return nil
}

func (t *memoryLedgerTx) LockBucket(key BucketKey, rateUnit RateUnit, create bool) (*StockBucket, bool, error) {
	key = key.Normalize()
	if b := t.bucketByKey(key); b != nil {
		return b.Clone(), false, nil
	}
	if !create {
		return nil, false, fmt.Errorf("%w: key=%s", ErrBucketNotFound, key)
	}
	t.state.nextBucketId++
	b := NewStockBucket(key, rateUnit)
	b.ID = t.state.nextBucketId
	b.CreatedAt = t.now()
	b.UpdatedAt = b.CreatedAt
	t.state.buckets[b.ID] = b.Clone()
	return b, true, nil
}

func (t *memoryLedgerTx) LockBucketByID(id int) (*StockBucket, error) {
	return t.GetBucket(id)
}

func (t *memoryLedgerTx) FindBucket(key BucketKey) (*StockBucket, error) {
	key = key.Normalize()
	if b := t.bucketByKey(key); b != nil {
		return b.Clone(), nil
	}
	return nil, fmt.Errorf("%w: key=%s", ErrBucketNotFound, key)
}

func (t *memoryLedgerTx) GetBucket(id int) (*StockBucket, error) {
	b, ok := t.state.buckets[id]
	if !ok {
		return nil, fmt.Errorf("%w: bucket_id=%d", ErrBucketNotFound, id)
	}
	return b.Clone(), nil
}

func (t *memoryLedgerTx) ListBuckets(filter BucketFilter) ([]*StockBucket, error) {
	var out []*StockBucket
	for _, b := range t.state.buckets {
		if filter.Matches(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out, nil
}

func (t *memoryLedgerTx) SaveBucket(b *StockBucket) error {
	if b.ID == 0 {
		t.state.nextBucketId++
		b.ID = t.state.nextBucketId
		b.CreatedAt = t.now()
	}
	b.UpdatedAt = t.now()
	t.state.buckets[b.ID] = b.Clone()
	return nil
}

func (t *memoryLedgerTx) FindMovement(bucketID int, refType ReferenceType, refID string) (*StockMovement, error) {
	for _, m := range t.state.movements {
		if m.BucketId == bucketID && m.ReferenceType == refType && m.ReferenceId == refID {
			return m.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: bucket_id=%d ref=%s:%s", ErrMovementNotFound, bucketID, refType, refID)
}

func (t *memoryLedgerTx) FindMovementsByReference(refType ReferenceType, refID string) ([]*StockMovement, error) {
	var out []*StockMovement
	for _, m := range t.state.movements {
		if m.ReferenceType == refType && m.ReferenceId == refID {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BucketId != out[j].BucketId {
			return out[i].BucketId < out[j].BucketId
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memoryLedgerTx) CreateMovement(m *StockMovement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if _, ok := t.state.buckets[m.BucketId]; !ok {
		return fmt.Errorf("%w: bucket_id=%d", ErrBucketNotFound, m.BucketId)
	}
	if _, err := t.FindMovement(m.BucketId, m.ReferenceType, m.ReferenceId); err == nil {
		return fmt.Errorf("%w: bucket_id=%d ref=%s:%s", ErrDuplicateKey, m.BucketId, m.ReferenceType, m.ReferenceId)
	}
	t.state.nextMovementId++
	m.ID = t.state.nextMovementId
	m.CreatedAt = t.now()
	m.UpdatedAt = m.CreatedAt
	t.state.movements[m.ID] = m.Clone()
	return nil
}

func (t *memoryLedgerTx) UpdateMovement(m *StockMovement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if _, ok := t.state.movements[m.ID]; !ok {
		return fmt.Errorf("%w: movement_id=%d", ErrMovementNotFound, m.ID)
	}
	m.UpdatedAt = t.now()
	t.state.movements[m.ID] = m.Clone()
	return nil
}

func (t *memoryLedgerTx) DeleteMovement(id int) error {
	if _, ok := t.state.movements[id]; !ok {
		return fmt.Errorf("%w: movement_id=%d", ErrMovementNotFound, id)
	}
	delete(t.state.movements, id)
	return nil
}

func (t *memoryLedgerTx) ListMovements(bucketID int, filter MovementFilter) ([]*StockMovement, error) {
	var out []*StockMovement
	for _, m := range t.state.movements {
		if m.BucketId != bucketID {
			continue
		}
		if !filter.From.IsZero() && m.MovementDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && m.MovementDate.After(filter.To) {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MovementDate.Equal(out[j].MovementDate) {
			return out[i].MovementDate.After(out[j].MovementDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (t *memoryLedgerTx) CreateReactorFailure(f *ReactorFailure) error {
	if _, ok := t.state.failures[f.ID]; ok {
		return fmt.Errorf("%w: reactor_failure=%s", ErrDuplicateKey, f.ID)
	}
	f.CreatedAt = t.now()
	f.UpdatedAt = f.CreatedAt
	t.state.failures[f.ID] = f.Clone()
	return nil
}

func (t *memoryLedgerTx) SaveReactorFailure(f *ReactorFailure) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = t.now()
	}
	f.UpdatedAt = t.now()
	t.state.failures[f.ID] = f.Clone()
	return nil
}

func (t *memoryLedgerTx) GetReactorFailure(id string) (*ReactorFailure, error) {
	f, ok := t.state.failures[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return f.Clone(), nil
}

func (t *memoryLedgerTx) DueReactorFailures(now time.Time, limit int) ([]*ReactorFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*ReactorFailure
	for _, f := range t.state.failures {
		if f.Status == ReactorFailurePending && !f.NextAttemptAt.After(now) {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextAttemptAt.Equal(out[j].NextAttemptAt) {
			return out[i].NextAttemptAt.Before(out[j].NextAttemptAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memoryLedgerTx) OpenReactorFailures(refType ReferenceType, refID string) ([]*ReactorFailure, error) {
	var out []*ReactorFailure
	for _, f := range t.state.failures {
		if f.ReferenceType != refType || f.ReferenceId != refID {
			continue
		}
		if f.Status == ReactorFailurePending || f.Status == ReactorFailureDead {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func idempotencyMapKey(handlerName, messageId string) string {
	return handlerName + "\x00" + messageId
}

func (t *memoryLedgerTx) CreateIdempotencyKey(k *IdempotencyKey) error {
	mk := idempotencyMapKey(k.HandlerName, k.MessageId)
	if _, ok := t.state.idempotency[mk]; ok {
		return fmt.Errorf("%w: handler=%s message_id=%s", ErrDuplicateKey, k.HandlerName, k.MessageId)
	}
	t.state.nextIdemId++
	k.ID = t.state.nextIdemId
	k.CreatedAt = t.now()
	k.UpdatedAt = k.CreatedAt
	t.state.idempotency[mk] = k.Clone()
	return nil
}

func (t *memoryLedgerTx) FindIdempotencyKey(handlerName, messageId string) (*IdempotencyKey, error) {
	k, ok := t.state.idempotency[idempotencyMapKey(handlerName, messageId)]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return k.Clone(), nil
}

func (t *memoryLedgerTx) SaveIdempotencyKey(k *IdempotencyKey) error {
	k.UpdatedAt = t.now()
	t.state.idempotency[idempotencyMapKey(k.HandlerName, k.MessageId)] = k.Clone()
	return nil
}
