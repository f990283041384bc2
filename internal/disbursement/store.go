package disbursement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/kursadbilgin/payout-engine/internal/observability"
	"go.uber.org/zap"
)

// Store is the batch persistence the engine reads from and reports to.
// Both writes are idempotent and may be retried verbatim.
type Store interface {
	GetWithPayments(ctx context.Context, batchID string) (*domain.Batch, error)
	WritePaymentOutcome(ctx context.Context, paymentID string, outcome domain.PaymentOutcome) error
	WriteBatchResult(ctx context.Context, batchID string, result domain.BatchResult) error
}

// writeRetrier retries store writes with exponential backoff.
// Writes run on a context detached from run cancellation so a settled outcome is not lost.
type writeRetrier struct {
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func (r *writeRetrier) do(ctx context.Context, operation string, write func(ctx context.Context) error) error {
	writeCtx := context.WithoutCancel(ctx)
	delay := r.backoff

	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		lastErr = write(writeCtx)
		if lastErr == nil {
			return nil
		}
		if isPermanentWriteError(lastErr) {
			return fmt.Errorf("%s failed: %w", operation, lastErr)
		}
		if attempt == r.attempts {
			break
		}

		r.metrics.IncStoreWriteRetry(operation)
		r.logger.Warn("store write failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(lastErr),
		)
		if err := r.sleep(writeCtx, delay); err != nil {
			return err
		}
		delay *= 2
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, r.attempts, lastErr)
}

// isPermanentWriteError reports store errors that the same write cannot get past.
func isPermanentWriteError(err error) bool {
	return errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrValidation)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
