package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/kursadbilgin/payout-engine/internal/keys"
	"github.com/kursadbilgin/payout-engine/internal/ledger"
	"github.com/kursadbilgin/payout-engine/internal/queue"
	"github.com/kursadbilgin/payout-engine/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentRequest is one payment instruction submitted with a new batch.
type PaymentRequest struct {
	Destination string
	Amount      decimal.Decimal
}

type BatchService struct {
	batches   repository.BatchRepository
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewBatchService(
	batches repository.BatchRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*BatchService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{
		batches:   batches,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Create stores a new pending batch. Payments keep the order they were submitted in.
func (s *BatchService) Create(ctx context.Context, requests []PaymentRequest) (*domain.Batch, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: batch must include at least one payment", domain.ErrValidation)
	}
	if len(requests) > domain.MaxBatchPayments {
		return nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, domain.MaxBatchPayments)
	}

	now := s.now().UTC()
	batch := &domain.Batch{
		ID:        uuid.NewString(),
		Status:    domain.BatchStatusPending,
		Payments:  make([]domain.Payment, 0, len(requests)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	for i, req := range requests {
		payment, err := preparePayment(batch.ID, i+1, req)
		if err != nil {
			return nil, fmt.Errorf("payment %d: %w", i, err)
		}
		payment.CreatedAt = now
		payment.UpdatedAt = now
		batch.Payments = append(batch.Payments, payment)
	}

	if err := batch.Validate(); err != nil {
		return nil, err
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to store batch: %w", err)
	}

	s.logger.Info("batch created",
		zap.String("batchId", batch.ID),
		zap.Int("payments", len(batch.Payments)),
	)
	return batch, nil
}

func (s *BatchService) Get(ctx context.Context, id string) (*domain.Batch, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return nil, domain.ErrNotFound
	}
	return s.batches.GetWithPayments(ctx, strings.TrimSpace(id))
}

// RequestPayout marks an unfinished batch queued and hands it to the payout workers.
// Requesting a batch that is already queued publishes it again; the worker resumes it.
func (s *BatchService) RequestPayout(ctx context.Context, id string, correlationID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}

	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if batch.Finished {
		return fmt.Errorf("%w: %s", domain.ErrBatchFinished, id)
	}

	if err := s.batches.MarkQueued(ctx, id); err != nil {
		if errors.Is(err, domain.ErrBatchFinished) || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to mark batch queued: %w", err)
	}

	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	msg := queue.PayoutMessage{
		BatchID:       id,
		CorrelationID: correlationID,
		RequestedAt:   s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, queue.PayoutQueue, msg); err != nil {
		s.logger.Error("failed to publish payout request",
			zap.String("batchId", id),
			zap.String("correlationId", correlationID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish payout request: %w", err)
	}

	s.logger.Info("payout requested",
		zap.String("batchId", id),
		zap.String("correlationId", correlationID),
	)
	return nil
}

func preparePayment(batchID string, sequence int, req PaymentRequest) (domain.Payment, error) {
	destination := strings.TrimSpace(req.Destination)
	if !keys.IsValidAddress(destination) {
		return domain.Payment{}, fmt.Errorf("%w: invalid destination address %q", domain.ErrValidation, destination)
	}
	if !req.Amount.IsPositive() {
		return domain.Payment{}, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	if _, err := ledger.ToDrops(req.Amount); err != nil {
		return domain.Payment{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	return domain.Payment{
		ID:          uuid.NewString(),
		BatchID:     batchID,
		Sequence:    sequence,
		Destination: destination,
		Amount:      req.Amount,
		Status:      domain.PaymentStatusPending,
	}, nil
}
