package repository

import (
	"time"

	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// BatchModel is the persistence model for the payment_batches table.
// Result columns stay NULL until the run writes its single batch result.
type BatchModel struct {
	ID             string             `gorm:"type:uuid;primaryKey"`
	Status         domain.BatchStatus `gorm:"type:varchar(20);not null"`
	TotalCount     int                `gorm:"not null"`
	TotalAmount    decimal.Decimal    `gorm:"type:numeric(38,6);not null"`
	Finished       bool               `gorm:"not null;default:false"`
	Successes      *int               `gorm:"type:int"`
	Failures       *int               `gorm:"type:int"`
	Skipped        *int               `gorm:"type:int"`
	MaxFeeExceeded *bool
	FinishedAt     *time.Time     `gorm:"type:timestamptz"`
	Payments       []PaymentModel `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (BatchModel) TableName() string {
	return "payment_batches"
}

// PaymentModel is the persistence model for the payments table.
type PaymentModel struct {
	ID          string               `gorm:"type:uuid;primaryKey"`
	BatchID     string               `gorm:"type:uuid;not null"`
	Sequence    int                  `gorm:"not null"`
	Destination string               `gorm:"type:varchar(35);not null"`
	Amount      decimal.Decimal      `gorm:"type:numeric(38,6);not null"`
	Status      domain.PaymentStatus `gorm:"type:varchar(20);not null"`
	TxHash      *string              `gorm:"type:varchar(64)"`
	FeeDrops    *int64               `gorm:"type:bigint"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (PaymentModel) TableName() string {
	return "payments"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	total := decimal.Zero
	payments := make([]PaymentModel, 0, len(b.Payments))
	for i := range b.Payments {
		total = total.Add(b.Payments[i].Amount)
		payments = append(payments, *paymentModelFromDomain(&b.Payments[i]))
	}

	model := &BatchModel{
		ID:          b.ID,
		Status:      b.Status,
		TotalCount:  len(b.Payments),
		TotalAmount: total,
		Finished:    b.Finished,
		Payments:    payments,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
	if b.Result != nil {
		successes, failures, skipped := b.Result.Successes, b.Result.Failures, b.Result.Skipped
		maxFeeExceeded := b.Result.MaxFeeExceeded
		model.Successes = &successes
		model.Failures = &failures
		model.Skipped = &skipped
		model.MaxFeeExceeded = &maxFeeExceeded
	}
	return model
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	b := &domain.Batch{
		ID:        m.ID,
		Status:    m.Status,
		Finished:  m.Finished,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.Finished && m.Successes != nil && m.Failures != nil {
		b.Result = &domain.BatchResult{
			Successes: *m.Successes,
			Failures:  *m.Failures,
		}
		if m.Skipped != nil {
			b.Result.Skipped = *m.Skipped
		}
		if m.MaxFeeExceeded != nil {
			b.Result.MaxFeeExceeded = *m.MaxFeeExceeded
		}
	}

	if len(m.Payments) > 0 {
		b.Payments = make([]domain.Payment, 0, len(m.Payments))
		for i := range m.Payments {
			b.Payments = append(b.Payments, *paymentModelToDomain(&m.Payments[i]))
		}
	}
	return b
}

func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	if p == nil {
		return nil
	}

	return &PaymentModel{
		ID:          p.ID,
		BatchID:     p.BatchID,
		Sequence:    p.Sequence,
		Destination: p.Destination,
		Amount:      p.Amount,
		Status:      p.Status,
		TxHash:      p.TxHash,
		FeeDrops:    p.FeeDrops,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func paymentModelToDomain(m *PaymentModel) *domain.Payment {
	if m == nil {
		return nil
	}

	return &domain.Payment{
		ID:          m.ID,
		BatchID:     m.BatchID,
		Sequence:    m.Sequence,
		Destination: m.Destination,
		Amount:      m.Amount,
		Status:      m.Status,
		TxHash:      m.TxHash,
		FeeDrops:    m.FeeDrops,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
