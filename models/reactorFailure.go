package models

import (
	"time"
)

type ReactorFailureStatus string

const (
	ReactorFailurePending   ReactorFailureStatus = "pending"
	ReactorFailureSucceeded ReactorFailureStatus = "succeeded"
	ReactorFailureDead      ReactorFailureStatus = "dead"

	// ReactorFailureSuperseded closes a failure made obsolete by a later successful call for
	// the same reference.
	ReactorFailureSuperseded ReactorFailureStatus = "superseded"
)

// ReactorFailure is a reactor call that failed and waits for replay. Before/After hold the
// JSON encoded MetalEvent snapshots passed to the failed call.
type ReactorFailure struct {
	ID            string               `gorm:"type:varchar(36);primary_key" json:"id"`
	ReferenceType ReferenceType        `gorm:"size:40;not null;index:idx_reactor_failure_ref,priority:1" json:"reference_type"`
	ReferenceId   string               `gorm:"size:64;not null;index:idx_reactor_failure_ref,priority:2" json:"reference_id"`
	Action        ReactionAction       `gorm:"size:20;not null" json:"action"`
	Before        string               `gorm:"type:text" json:"before"`
	After         string               `gorm:"type:text" json:"after"`
	Status        ReactorFailureStatus `gorm:"size:20;not null;index:idx_reactor_failure_due,priority:1" json:"status"`
	Attempts      int                  `gorm:"not null;default:0" json:"attempts"`
	LastError     string               `gorm:"type:text" json:"last_error"`
	CorrelationId string               `gorm:"size:64" json:"correlation_id"`
	NextAttemptAt time.Time            `gorm:"not null;index:idx_reactor_failure_due,priority:2" json:"next_attempt_at"`
	CreatedAt     time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ReactorFailure) TableName() string {
	return "ledger_reactor_failures"
}

func (f *ReactorFailure) Clone() *ReactorFailure {
	c := *f
	return &c
}
