package disbursement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/kursadbilgin/payout-engine/internal/ledger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrRejected marks a transaction that settled with a result other than tesSUCCESS.
var ErrRejected = errors.New("transaction rejected by ledger")

// Submission is the outcome of one payment submission. Err is set for every failure.
type Submission struct {
	Succeeded  bool
	Settlement *ledger.Settlement
	Err        error
	Duration   time.Duration
}

// Outcome converts the submission to the record stored against the payment.
func (s Submission) Outcome() domain.PaymentOutcome {
	if s.Succeeded {
		return domain.SucceededOutcome(s.Settlement.Hash, s.Settlement.FeeDrops)
	}

	outcome := domain.FailedOutcome()
	if s.Settlement != nil {
		outcome.TxHash = s.Settlement.Hash
		outcome.FeeDrops = s.Settlement.FeeDrops
	}
	return outcome
}

// Submitter sends a single payment and waits for its settlement. It never returns an error;
// failures are folded into the Submission.
type Submitter struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewSubmitter(logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		logger: logger,
		now:    time.Now,
	}
}

func (s *Submitter) Submit(
	ctx context.Context,
	session ledger.Session,
	identity domain.Identity,
	destination string,
	amount decimal.Decimal,
) Submission {
	start := s.now()
	finish := func(sub Submission) Submission {
		sub.Duration = s.now().Sub(start)
		return sub
	}

	if session == nil {
		return finish(Submission{Err: ledger.ErrSessionClosed})
	}

	drops, err := ledger.ToDrops(amount)
	if err != nil {
		return finish(Submission{Err: err})
	}

	settlement, err := session.SubmitAndWait(ctx, identity, ledger.Payment{
		Destination: destination,
		AmountDrops: drops,
	})
	if err != nil {
		return finish(Submission{Err: fmt.Errorf("failed to submit payment: %w", err)})
	}
	if settlement == nil {
		return finish(Submission{Err: fmt.Errorf("%w: empty settlement", ledger.ErrMalformedResponse)})
	}
	if !settlement.Succeeded() {
		return finish(Submission{
			Settlement: settlement,
			Err:        fmt.Errorf("%w: %s", ErrRejected, settlement.ResultCode),
		})
	}

	s.logger.Debug("payment settled",
		zap.String("destination", destination),
		zap.String("txHash", settlement.Hash),
		zap.Int64("feeDrops", settlement.FeeDrops),
	)
	return finish(Submission{Succeeded: true, Settlement: settlement})
}
