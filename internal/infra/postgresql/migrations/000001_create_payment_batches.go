package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/payout-engine/internal/repository"
	"gorm.io/gorm"
)

func createPaymentBatchesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_payment_batches",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Migrator().CreateTable(&repository.BatchModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_payment_batches_status_created ON payment_batches (status, created_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BatchModel{})
		},
	}
}
