package disbursement

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/kursadbilgin/payout-engine/internal/ledger"
	"github.com/kursadbilgin/payout-engine/internal/observability"
	"go.uber.org/zap"
)

// Dispatcher walks the instructions of one batch in order over a single ledger session.
// A payment's outcome is persisted before the next payment is looked at.
type Dispatcher struct {
	session   ledger.Session
	identity  domain.Identity
	store     Store
	guard     *ExistenceGuard
	submitter *Submitter
	settings  Settings
	metrics   *observability.Metrics
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	session ledger.Session,
	identity domain.Identity,
	store Store,
	settings Settings,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		session:   session,
		identity:  identity,
		store:     store,
		guard:     NewExistenceGuard(logger),
		submitter: NewSubmitter(logger),
		settings:  settings.withDefaults(),
		logger:    logger,
		sleep:     sleepWithContext,
	}
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Dispatch runs the batch to completion or until the fee ceiling is breached, then writes
// the batch result exactly once. Payments that already carry a terminal outcome are counted
// but not resubmitted. A cancelled context stops the run before the next payment without
// writing a batch result.
func (d *Dispatcher) Dispatch(ctx context.Context, batchID string, instructions []domain.Payment) (domain.BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	retrier := &writeRetrier{
		attempts: d.settings.WriteRetries,
		backoff:  d.settings.WriteBackoff,
		sleep:    d.sleep,
		metrics:  d.metrics,
		logger:   d.logger,
	}
	aggregator := newAggregator(batchID, d.store, retrier, d.logger)

	var result domain.BatchResult
	for i := range instructions {
		payment := instructions[i]
		if payment.Status.IsTerminal() {
			tallyRecorded(&result, payment.Status)
			continue
		}

		if err := ctx.Err(); err != nil {
			return result, interrupted(err, i)
		}

		logger := d.logger.With(
			zap.String("paymentId", payment.ID),
			zap.Int("sequence", payment.Sequence),
			zap.String("destination", payment.Destination),
		)

		if !d.guard.Exists(ctx, d.session, payment.Destination) {
			if err := ctx.Err(); err != nil {
				return result, interrupted(err, i)
			}

			result.Failures++
			result.Skipped++
			d.metrics.IncPayment(domain.PaymentStatusSkipped.String())
			logger.Info("destination does not exist, payment skipped")
			d.recordOutcome(ctx, retrier, logger, payment.ID, domain.SkippedOutcome())
			continue
		}

		if err := d.sleep(ctx, d.settings.Delay); err != nil {
			return result, interrupted(err, i)
		}

		// A submitted payment is tracked to settlement or expiry and recorded before the run
		// can stop. Cancellation is only honored between payments.
		submission := d.submitter.Submit(context.WithoutCancel(ctx), d.session, d.identity, payment.Destination, payment.Amount)
		if !submission.Succeeded {
			result.Failures++
			d.metrics.IncPayment(domain.PaymentStatusFailed.String())
			d.metrics.ObservePaymentSubmitDuration(domain.PaymentStatusFailed.String(), submission.Duration)
			logger.Warn("payment failed",
				zap.Error(submission.Err),
				zap.String("amount", payment.Amount.String()),
			)
			d.recordOutcome(ctx, retrier, logger, payment.ID, submission.Outcome())
			continue
		}

		result.Successes++
		d.metrics.IncPayment(domain.PaymentStatusSucceeded.String())
		d.metrics.ObservePaymentSubmitDuration(domain.PaymentStatusSucceeded.String(), submission.Duration)
		d.metrics.ObserveSettlementFee(submission.Settlement.FeeDrops)
		logger.Info("payment succeeded",
			zap.String("txHash", submission.Settlement.Hash),
			zap.Int64("feeDrops", submission.Settlement.FeeDrops),
			zap.String("amount", payment.Amount.String()),
		)
		d.recordOutcome(ctx, retrier, logger, payment.ID, submission.Outcome())

		if FeeExceeded(submission.Settlement, d.settings.MaxFeeDrops) {
			result.MaxFeeExceeded = true
			logger.Error("settled fee above ceiling, halting batch",
				zap.Int64("feeDrops", submission.Settlement.FeeDrops),
				zap.Int64("maxFeeDrops", d.settings.MaxFeeDrops),
				zap.Int("remaining", len(instructions)-i-1),
			)
			return result, aggregator.Finish(ctx, result)
		}
	}

	return result, aggregator.Finish(ctx, result)
}

func (d *Dispatcher) recordOutcome(
	ctx context.Context,
	retrier *writeRetrier,
	logger *zap.Logger,
	paymentID string,
	outcome domain.PaymentOutcome,
) {
	err := retrier.do(ctx, "payment_outcome", func(ctx context.Context) error {
		return d.store.WritePaymentOutcome(ctx, paymentID, outcome)
	})
	if err != nil {
		logger.Error("failed to persist payment outcome",
			zap.String("status", outcome.Status.String()),
			zap.String("txHash", outcome.TxHash),
			zap.Error(err),
		)
	}
}

func tallyRecorded(result *domain.BatchResult, status domain.PaymentStatus) {
	switch status {
	case domain.PaymentStatusSucceeded:
		result.Successes++
	case domain.PaymentStatusSkipped:
		result.Failures++
		result.Skipped++
	case domain.PaymentStatusFailed:
		result.Failures++
	}
}

func interrupted(err error, index int) error {
	return fmt.Errorf("payout run interrupted before payment %d: %w", index, err)
}
