package models

import "time"

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)

// IdempotencyKey provides durable idempotency for pushed ledger events.
// Unique constraint: (handler_name, message_id).
type IdempotencyKey struct {
	ID          int               `gorm:"primary_key" json:"id"`
	HandlerName string            `gorm:"size:100;not null;uniqueIndex:uniq_ledger_idem,priority:1" json:"handler_name"`
	MessageId   string            `gorm:"size:255;not null;uniqueIndex:uniq_ledger_idem,priority:2" json:"message_id"`
	Status      IdempotencyStatus `gorm:"size:20;not null;index" json:"status"`
	LastError   *string           `gorm:"type:text" json:"last_error"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (IdempotencyKey) TableName() string {
	return "ledger_idempotency_keys"
}

func (k *IdempotencyKey) Clone() *IdempotencyKey {
	c := *k
	if k.LastError != nil {
		msg := *k.LastError
		c.LastError = &msg
	}
	return &c
}
