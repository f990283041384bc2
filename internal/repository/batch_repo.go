package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/payout-engine/internal/domain"
	"gorm.io/gorm"
)

const paymentInsertBatchSize = 100

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	GetWithPayments(ctx context.Context, id string) (*domain.Batch, error)
	MarkQueued(ctx context.Context, id string) error
	WritePaymentOutcome(ctx context.Context, paymentID string, outcome domain.PaymentOutcome) error
	WriteBatchResult(ctx context.Context, batchID string, result domain.BatchResult) error
}

type GormBatchRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db, now: time.Now}
}

// Create stores the batch header and all of its payments in one transaction.
func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	model := batchModelFromDomain(b)
	if model == nil {
		return fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Payments").Create(model).Error; err != nil {
			return err
		}
		if len(model.Payments) == 0 {
			return nil
		}
		return tx.CreateInBatches(&model.Payments, paymentInsertBatchSize).Error
	})
	if err != nil {
		return err
	}

	*b = *batchModelToDomain(model)
	return nil
}

// GetByID returns the batch header without payments.
func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

// GetWithPayments returns the batch with its payments in batch order.
func (r *GormBatchRepo) GetWithPayments(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).
		Preload("Payments", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

// MarkQueued flags an unfinished batch as waiting for a payout worker.
func (r *GormBatchRepo) MarkQueued(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND finished = ?", id, false).
		Update("status", domain.BatchStatusQueued)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrBatchFinished
}

// WritePaymentOutcome moves a pending payment to its terminal status. Repeating the same
// outcome is a no-op; a different outcome for a terminal payment is a conflict.
func (r *GormBatchRepo) WritePaymentOutcome(ctx context.Context, paymentID string, outcome domain.PaymentOutcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("%w: outcome status %q is not terminal", domain.ErrValidation, outcome.Status)
	}

	updates := map[string]any{
		"status":     outcome.Status,
		"updated_at": r.now().UTC(),
	}
	if outcome.TxHash != "" {
		updates["tx_hash"] = outcome.TxHash
	}
	if outcome.FeeDrops > 0 {
		updates["fee_drops"] = outcome.FeeDrops
	}

	result := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("id = ? AND status = ?", paymentID, domain.PaymentStatusPending).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var existing PaymentModel
	err := r.db.WithContext(ctx).First(&existing, "id = ?", paymentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if existing.Status == outcome.Status {
		return nil
	}
	return fmt.Errorf("%w: payment %s already %s", domain.ErrConflict, paymentID, existing.Status)
}

// WriteBatchResult marks the batch finished with its result. It succeeds once per batch;
// repeating the identical result is a no-op.
func (r *GormBatchRepo) WriteBatchResult(ctx context.Context, batchID string, result domain.BatchResult) error {
	now := r.now().UTC()
	res := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND finished = ?", batchID, false).
		Updates(map[string]any{
			"finished":         true,
			"status":           result.Status(),
			"successes":        result.Successes,
			"failures":         result.Failures,
			"skipped":          result.Skipped,
			"max_fee_exceeded": result.MaxFeeExceeded,
			"finished_at":      now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	existing, err := r.GetByID(ctx, batchID)
	if err != nil {
		return err
	}
	if existing.Result != nil && *existing.Result == result {
		return nil
	}
	return fmt.Errorf("%w: batch %s already finished", domain.ErrConflict, batchID)
}
