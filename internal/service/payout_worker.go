package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/payout-engine/internal/disbursement"
	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/kursadbilgin/payout-engine/internal/lock"
	"github.com/kursadbilgin/payout-engine/internal/notify"
	"github.com/kursadbilgin/payout-engine/internal/observability"
	"github.com/kursadbilgin/payout-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minLockRefresh      = time.Second
	lockReleaseTimeout  = 5 * time.Second
	notificationTimeout = 30 * time.Second
)

// Runner executes payout runs for the configured funding account.
type Runner interface {
	Run(ctx context.Context, batchID string) (*disbursement.RunReport, error)
	FundingAddress() (string, error)
}

// PayoutWorker consumes payout requests and runs them one funding account at a time.
type PayoutWorker struct {
	runner       Runner
	locker       lock.Locker
	consumer     queue.Consumer
	notifier     notify.Notifier
	refreshEvery time.Duration
	lockTTL      time.Duration
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

func NewPayoutWorker(
	runner Runner,
	locker lock.Locker,
	consumer queue.Consumer,
	notifier notify.Notifier,
	lockTTL time.Duration,
	logger *zap.Logger,
) (*PayoutWorker, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	refreshEvery := lockTTL / 3
	if refreshEvery < minLockRefresh {
		refreshEvery = minLockRefresh
	}

	return &PayoutWorker{
		runner:       runner,
		locker:       locker,
		consumer:     consumer,
		notifier:     notifier,
		refreshEvery: refreshEvery,
		lockTTL:      max(lockTTL, refreshEvery),
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (w *PayoutWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the payout queue until ctx is cancelled.
func (w *PayoutWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	w.logger.Info("payout worker started", zap.String("queue", queue.PayoutQueue))
	if err := w.consumer.Consume(ctx, queue.PayoutQueue, w.processMessage); err != nil {
		w.logger.Error("payout worker stopped with error", zap.Error(err))
		return err
	}
	w.logger.Info("payout worker stopped")
	return nil
}

func (w *PayoutWorker) processMessage(ctx context.Context, msg queue.PayoutMessage) error {
	logger := observability.WithBatchLogger(w.logger, ctx, msg.BatchID)

	address, err := w.runner.FundingAddress()
	if err != nil {
		// Misconfigured secret material; park the request until an operator fixes it.
		logger.Error("cannot derive funding address", zap.Error(err))
		return fmt.Errorf("%w: %v", queue.ErrDiscard, err)
	}

	lease, err := w.acquire(ctx, lock.FundingAccountKey(address), logger)
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}

	outcome := w.runLocked(ctx, lease, msg.BatchID)

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
	if err := lease.Release(releaseCtx); err != nil {
		logger.Warn("failed to release run lock", zap.String("lock", lease.Key()), zap.Error(err))
	}
	cancel()

	if outcome.lockErr != nil {
		logger.Error("run lock lost during payout run",
			zap.Error(outcome.lockErr),
			zap.NamedError("runError", outcome.runErr),
		)
		return fmt.Errorf("run lock lost: %w", outcome.lockErr)
	}

	return w.settle(ctx, logger, msg, address, outcome.report, outcome.runErr)
}

func (w *PayoutWorker) acquire(ctx context.Context, key string, logger *zap.Logger) (lock.Lease, error) {
	lease, err := w.locker.Acquire(ctx, key)
	if err == nil {
		return lease, nil
	}
	if !errors.Is(err, lock.ErrNotAcquired) {
		return nil, err
	}

	w.metrics.IncRunLockContended()
	logger.Info("funding account busy, waiting for run lock", zap.String("lock", key))
	return w.locker.Wait(ctx, key)
}

type lockedRun struct {
	report  *disbursement.RunReport
	runErr  error
	lockErr error
}

// runLocked runs the batch while keeping the lease alive. Losing the lease cancels the run.
func (w *PayoutWorker) runLocked(ctx context.Context, lease lock.Lease, batchID string) lockedRun {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var out lockedRun
	g, groupCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return lock.KeepAlive(groupCtx, lease, w.refreshEvery, w.lockTTL, w.logger)
	})
	g.Go(func() error {
		defer stop()
		out.report, out.runErr = w.runner.Run(groupCtx, batchID)
		return nil
	})

	out.lockErr = g.Wait()
	return out
}

// settle decides the delivery outcome: nil acks, an error nacks for redelivery.
func (w *PayoutWorker) settle(
	ctx context.Context,
	logger *zap.Logger,
	msg queue.PayoutMessage,
	address string,
	report *disbursement.RunReport,
	runErr error,
) error {
	switch {
	case runErr == nil:
		logger.Info("payout run finished",
			zap.String("status", report.Result.Status().String()),
			zap.Int("successes", report.Result.Successes),
			zap.Int("failures", report.Result.Failures),
			zap.Int("skipped", report.Result.Skipped),
			zap.Bool("maxFeeExceeded", report.Result.MaxFeeExceeded),
			zap.Int("visited", report.Visited),
			zap.Int("total", report.Total),
		)
		result := report.Result
		w.notify(ctx, logger, notify.ResultEvent{
			BatchID:        msg.BatchID,
			CorrelationID:  msg.CorrelationID,
			Status:         result.Status().String(),
			FundingAddress: report.FundingAddress,
			Result:         &result,
			Total:          report.Total,
			OccurredAt:     w.now().UTC(),
		})
		return nil

	case disbursement.IsPreflight(runErr):
		logger.Warn("payout run rejected before dispatch", zap.Error(runErr))
		w.notify(ctx, logger, notify.ResultEvent{
			BatchID:        msg.BatchID,
			CorrelationID:  msg.CorrelationID,
			Status:         notify.StatusRejected,
			FundingAddress: address,
			Error:          runErr.Error(),
			OccurredAt:     w.now().UTC(),
		})
		return nil

	case errors.Is(runErr, domain.ErrNotFound),
		errors.Is(runErr, domain.ErrBatchFinished),
		errors.Is(runErr, domain.ErrValidation):
		logger.Warn("payout request dropped", zap.Error(runErr))
		return nil

	default:
		return fmt.Errorf("payout run failed: %w", runErr)
	}
}

func (w *PayoutWorker) notify(ctx context.Context, logger *zap.Logger, event notify.ResultEvent) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
	defer cancel()

	if err := w.notifier.NotifyResult(notifyCtx, event); err != nil {
		w.metrics.IncResultNotification("failed")
		logger.Warn("failed to deliver result notification",
			zap.String("status", event.Status),
			zap.Bool("transient", notify.IsTransient(err)),
			zap.Error(err),
		)
		return
	}
	w.metrics.IncResultNotification("delivered")
}
