package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/satellite-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createTransferEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_transfer_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.TransferEventModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_transfer_events_subscription_created ON transfer_events (subscription_id, created_at DESC)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TransferEventModel{})
		},
	}
}
