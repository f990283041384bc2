package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/payout-engine/internal/repository"
	"gorm.io/gorm"
)

func createPaymentsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_payments",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PaymentModel{}); err != nil {
				return err
			}
			statements := []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_batch_sequence ON payments (batch_id, sequence)`,
				`CREATE INDEX IF NOT EXISTS idx_payments_pending ON payments (batch_id) WHERE status = 'PENDING'`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_tx_hash ON payments (tx_hash) WHERE tx_hash IS NOT NULL`,
				`ALTER TABLE payments DROP CONSTRAINT IF EXISTS fk_payment_batches_payments`,
				`ALTER TABLE payments ADD CONSTRAINT fk_payment_batches_payments FOREIGN KEY (batch_id) REFERENCES payment_batches (id) ON DELETE CASCADE`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PaymentModel{})
		},
	}
}
