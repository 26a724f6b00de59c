package models

import (
	"log"

	"github.com/mmdatafocus/metalstock_backend/config"
	"gorm.io/gorm"
)

// LedgerTables lists every table owned by the ledger, in creation order.
func LedgerTables() []interface{} {
	return []interface{}{
		&StockBucket{}, &StockMovement{},
		&ReactorFailure{},
		&IdempotencyKey{},
	}
}

func MigrateTable() {
	if err := MigrateLedger(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func MigrateLedger(db *gorm.DB) error {
	if db == nil {
		return ErrDBNotInitialized
	}
	return db.AutoMigrate(LedgerTables()...)
}
