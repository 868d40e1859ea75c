package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addTransferEventsFailureIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_add_transfer_events_failure_index",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_transfer_events_failures ON transfer_events (error_code, created_at) WHERE state = 'SEND_FAILED'`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_transfer_events_failures`).Error
		},
	}
}
