package disbursement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/kursadbilgin/payout-engine/internal/keys"
	"github.com/kursadbilgin/payout-engine/internal/ledger"
	"github.com/kursadbilgin/payout-engine/internal/observability"
	"go.uber.org/zap"
)

// PreflightKind names the check that stopped a run before any payment was attempted.
type PreflightKind string

const (
	PreflightIdentity          PreflightKind = "identity"
	PreflightConnect           PreflightKind = "connect"
	PreflightBalance           PreflightKind = "balance"
	PreflightInsufficientFunds PreflightKind = "insufficient_funds"
)

// PreflightError is returned when a run aborts before dispatch. Nothing was written for the batch.
type PreflightError struct {
	Kind PreflightKind
	Err  error
}

func (e *PreflightError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("preflight %s failed", e.Kind)
	}
	return fmt.Sprintf("preflight %s failed: %v", e.Kind, e.Err)
}

func (e *PreflightError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsPreflight reports whether err aborted a run before dispatch.
func IsPreflight(err error) bool {
	var preflightErr *PreflightError
	return errors.As(err, &preflightErr)
}

// RunReport summarizes one finished run.
type RunReport struct {
	BatchID        string
	FundingAddress string
	Result         domain.BatchResult
	Halted         bool
	Visited        int
	Total          int
}

// Engine owns a payout run end to end: identity, session, pre-flight checks and dispatch.
type Engine struct {
	store    Store
	dialer   ledger.Dialer
	material keys.Material
	settings Settings
	metrics  *observability.Metrics
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewEngine(
	store Store,
	dialer ledger.Dialer,
	material keys.Material,
	settings Settings,
	logger *zap.Logger,
) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if dialer == nil {
		return nil, fmt.Errorf("ledger dialer is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		store:    store,
		dialer:   dialer,
		material: material,
		settings: settings.withDefaults(),
		logger:   logger,
		sleep:    sleepWithContext,
	}, nil
}

func (e *Engine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// FundingAddress derives the funding account address from the configured secret material.
func (e *Engine) FundingAddress() (string, error) {
	identity, err := keys.Derive(e.material)
	if err != nil {
		return "", &PreflightError{Kind: PreflightIdentity, Err: err}
	}
	return identity.Address, nil
}

// Run disburses every pending payment of the batch. Pre-flight failures are returned as
// *PreflightError and leave the batch untouched.
func (e *Engine) Run(ctx context.Context, batchID string) (*RunReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	e.metrics.IncRunsInFlight()
	defer e.metrics.DecRunsInFlight()

	report, err := e.run(ctx, strings.TrimSpace(batchID))
	e.metrics.IncPayoutRun(runResultLabel(report, err))
	return report, err
}

func (e *Engine) run(ctx context.Context, batchID string) (*RunReport, error) {
	logger := observability.WithBatchLogger(e.logger, ctx, batchID)

	if batchID == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := e.store.GetWithPayments(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}
	if batch.Finished {
		return nil, fmt.Errorf("%w: %s", domain.ErrBatchFinished, batchID)
	}
	if len(batch.Payments) == 0 {
		return nil, fmt.Errorf("%w: batch %s has no payments", domain.ErrValidation, batchID)
	}

	identity, err := keys.Derive(e.material)
	if err != nil {
		return nil, &PreflightError{Kind: PreflightIdentity, Err: err}
	}
	logger = logger.With(zap.Object("funding", identity))

	session, err := e.dialer.Dial(ctx, e.settings.Endpoint)
	if err != nil {
		return nil, &PreflightError{Kind: PreflightConnect, Err: err}
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.Warn("failed to close ledger session", zap.Error(closeErr))
		}
	}()

	balance, err := session.Balance(ctx, identity.Address)
	if err != nil {
		return nil, &PreflightError{Kind: PreflightBalance, Err: err}
	}

	pending := batch.Pending()
	required := RequiredFunds(pending, e.settings.PerTxFee)
	if !IsSolvent(balance, pending, e.settings.PerTxFee) {
		return nil, &PreflightError{
			Kind: PreflightInsufficientFunds,
			Err: fmt.Errorf("%w: balance %s, required %s for %d payments",
				domain.ErrInsufficientFunds, balance, required, len(pending)),
		}
	}

	logger.Info("payout run started",
		zap.Int("payments", len(batch.Payments)),
		zap.Int("pending", len(pending)),
		zap.String("balance", balance.String()),
		zap.String("required", required.String()),
	)

	dispatcher := NewDispatcher(session, identity, e.store, e.settings, logger)
	dispatcher.SetMetrics(e.metrics)
	dispatcher.sleep = e.sleep

	result, err := dispatcher.Dispatch(ctx, batch.ID, batch.Payments)
	report := &RunReport{
		BatchID:        batch.ID,
		FundingAddress: identity.Address,
		Result:         result,
		Halted:         result.MaxFeeExceeded,
		Visited:        result.Visited(),
		Total:          len(batch.Payments),
	}
	return report, err
}

func runResultLabel(report *RunReport, err error) string {
	var preflightErr *PreflightError
	switch {
	case errors.As(err, &preflightErr):
		return "preflight_" + string(preflightErr.Kind)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case err != nil:
		return "error"
	case report != nil && report.Halted:
		return "halted"
	default:
		return "completed"
	}
}
