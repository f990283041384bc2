package disbursement

import (
	"context"
	"errors"
	"sync"

	"github.com/kursadbilgin/payout-engine/internal/domain"
	"go.uber.org/zap"
)

var ErrResultAlreadyWritten = errors.New("batch result already written")

// Aggregator owns the terminal write of one run. Either the halt record or the
// completion record is written, never both, and never twice.
type Aggregator struct {
	batchID string
	store   Store
	retrier *writeRetrier
	logger  *zap.Logger

	mu      sync.Mutex
	written bool
}

func newAggregator(batchID string, store Store, retrier *writeRetrier, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		batchID: batchID,
		store:   store,
		retrier: retrier,
		logger:  logger,
	}
}

// Finish persists the batch as finished with the given result. The first call consumes
// the aggregator even if the write fails.
func (a *Aggregator) Finish(ctx context.Context, result domain.BatchResult) error {
	a.mu.Lock()
	if a.written {
		a.mu.Unlock()
		return ErrResultAlreadyWritten
	}
	a.written = true
	a.mu.Unlock()

	err := a.retrier.do(ctx, "batch_result", func(ctx context.Context) error {
		return a.store.WriteBatchResult(ctx, a.batchID, result)
	})
	if err != nil {
		a.logger.Error("failed to persist batch result",
			zap.Int("successes", result.Successes),
			zap.Int("failures", result.Failures),
			zap.Bool("maxFeeExceeded", result.MaxFeeExceeded),
			zap.Error(err),
		)
		return err
	}

	a.logger.Info("batch finished",
		zap.String("status", result.Status().String()),
		zap.Int("successes", result.Successes),
		zap.Int("failures", result.Failures),
		zap.Int("skipped", result.Skipped),
		zap.Bool("maxFeeExceeded", result.MaxFeeExceeded),
	)
	return nil
}
