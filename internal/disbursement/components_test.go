package disbursement

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/kursadbilgin/payout-engine/internal/ledger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func payments(amounts ...string) []domain.Payment {
	out := make([]domain.Payment, 0, len(amounts))
	for _, a := range amounts {
		out = append(out, domain.Payment{Amount: decimal.RequireFromString(a)})
	}
	return out
}

func TestIsSolvent(t *testing.T) {
	t.Parallel()

	fee := decimal.RequireFromString("0.00003")

	testCases := []struct {
		name         string
		balance      string
		instructions []domain.Payment
		want         bool
	}{
		{name: "comfortably solvent", balance: "100", instructions: payments("40", "50"), want: true},
		{name: "exact requirement", balance: "90.00006", instructions: payments("40", "50"), want: true},
		{name: "one drop short", balance: "90.000059", instructions: payments("40", "50"), want: false},
		{name: "fees alone exceed balance", balance: "0.00002", instructions: payments("0.000001"), want: false},
		{name: "no instructions", balance: "0", instructions: nil, want: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			balance := decimal.RequireFromString(tc.balance)
			if got := IsSolvent(balance, tc.instructions, fee); got != tc.want {
				t.Fatalf("IsSolvent(%s) = %v, want %v (required %s)",
					tc.balance, got, tc.want, RequiredFunds(tc.instructions, fee))
			}
			// Same snapshot, same answer.
			if again := IsSolvent(balance, tc.instructions, fee); again != tc.want {
				t.Fatalf("second IsSolvent(%s) = %v, want %v", tc.balance, again, tc.want)
			}
		})
	}
}

func TestRequiredFunds(t *testing.T) {
	t.Parallel()

	got := RequiredFunds(payments("40", "50"), decimal.RequireFromString("0.00003"))
	if !got.Equal(decimal.RequireFromString("90.00006")) {
		t.Fatalf("RequiredFunds() = %s, want 90.00006", got)
	}
}

func TestExistenceGuard(t *testing.T) {
	t.Parallel()

	known := testAddress(t, 1)

	testCases := []struct {
		name        string
		address     string
		infoFn      func(ctx context.Context, address string) (*ledger.AccountInfo, error)
		want        bool
		wantQueries int
	}{
		{
			name:    "funded account",
			address: known,
			infoFn: func(context.Context, string) (*ledger.AccountInfo, error) {
				return &ledger.AccountInfo{BalanceDrops: 10_000_000}, nil
			},
			want:        true,
			wantQueries: 1,
		},
		{
			name:    "zero balance",
			address: known,
			infoFn: func(context.Context, string) (*ledger.AccountInfo, error) {
				return &ledger.AccountInfo{BalanceDrops: 0}, nil
			},
			wantQueries: 1,
		},
		{
			name:    "account not found",
			address: known,
			infoFn: func(context.Context, string) (*ledger.AccountInfo, error) {
				return nil, &ledger.RPCError{Method: "account_info", Code: "actNotFound"}
			},
			wantQueries: 1,
		},
		{
			name:    "transport error",
			address: known,
			infoFn: func(context.Context, string) (*ledger.AccountInfo, error) {
				return nil, errors.New("connection reset")
			},
			wantQueries: 1,
		},
		{
			name:    "nil response",
			address: known,
			infoFn: func(context.Context, string) (*ledger.AccountInfo, error) {
				return nil, nil
			},
			wantQueries: 1,
		},
		{name: "malformed address", address: "rNotAnAddress", wantQueries: 0},
		{name: "empty address", address: "", wantQueries: 0},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			session := newFakeSession()
			session.accountInfoFn = tc.infoFn
			guard := NewExistenceGuard(zap.NewNop())

			if got := guard.Exists(context.Background(), session, tc.address); got != tc.want {
				t.Fatalf("Exists() = %v, want %v", got, tc.want)
			}
			if session.accountQueries != tc.wantQueries {
				t.Fatalf("account queries = %d, want %d", session.accountQueries, tc.wantQueries)
			}
		})
	}
}

func TestSubmitterSubmit(t *testing.T) {
	t.Parallel()

	destination := testAddress(t, 2)
	identity := domain.NewIdentity(fundingAddress, domain.KeyTypeSecp256k1, fundingSeed)

	t.Run("success converts amount to drops", func(t *testing.T) {
		t.Parallel()

		session := newFakeSession()
		sub := NewSubmitter(nil).Submit(context.Background(), session, identity, destination, decimal.RequireFromString("1.5"))
		if !sub.Succeeded || sub.Err != nil {
			t.Fatalf("Submit() = %+v, want success", sub)
		}
		if len(session.submitted) != 1 || session.submitted[0].AmountDrops != 1_500_000 {
			t.Fatalf("submitted = %+v, want one payment of 1500000 drops", session.submitted)
		}

		outcome := sub.Outcome()
		if outcome.Status != domain.PaymentStatusSucceeded || outcome.TxHash != "TX1" || outcome.FeeDrops != 12 {
			t.Fatalf("Outcome() = %+v", outcome)
		}
	})

	t.Run("non success code is a failure", func(t *testing.T) {
		t.Parallel()

		session := newFakeSession()
		session.submitFn = func(context.Context, domain.Identity, ledger.Payment) (*ledger.Settlement, error) {
			return &ledger.Settlement{Hash: "TXF", ResultCode: "tecNO_DST_INSUF_XRP", FeeDrops: 12, Validated: true}, nil
		}

		sub := NewSubmitter(nil).Submit(context.Background(), session, identity, destination, decimal.NewFromInt(1))
		if sub.Succeeded {
			t.Fatal("expected failure")
		}
		if !errors.Is(sub.Err, ErrRejected) {
			t.Fatalf("Err = %v, want ErrRejected", sub.Err)
		}

		outcome := sub.Outcome()
		if outcome.Status != domain.PaymentStatusFailed || outcome.TxHash != "TXF" {
			t.Fatalf("Outcome() = %+v, want failed with tx hash", outcome)
		}
	})

	t.Run("transport error is a failure", func(t *testing.T) {
		t.Parallel()

		session := newFakeSession()
		session.submitFn = func(context.Context, domain.Identity, ledger.Payment) (*ledger.Settlement, error) {
			return nil, ledger.ErrTransactionExpired
		}

		sub := NewSubmitter(nil).Submit(context.Background(), session, identity, destination, decimal.NewFromInt(1))
		if sub.Succeeded || !errors.Is(sub.Err, ledger.ErrTransactionExpired) {
			t.Fatalf("Submit() = %+v, want expired failure", sub)
		}
		if outcome := sub.Outcome(); outcome.Status != domain.PaymentStatusFailed || outcome.TxHash != "" {
			t.Fatalf("Outcome() = %+v", outcome)
		}
	})

	t.Run("unrepresentable amount is never submitted", func(t *testing.T) {
		t.Parallel()

		session := newFakeSession()
		sub := NewSubmitter(nil).Submit(context.Background(), session, identity, destination, decimal.RequireFromString("0.0000001"))
		if sub.Succeeded || !errors.Is(sub.Err, ledger.ErrInvalidAmount) {
			t.Fatalf("Submit() = %+v, want invalid amount", sub)
		}
		if len(session.submitted) != 0 {
			t.Fatalf("submitted = %d, want 0", len(session.submitted))
		}
	})
}

func TestFeeExceeded(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		settlement *ledger.Settlement
		want       bool
	}{
		{name: "under ceiling", settlement: &ledger.Settlement{ResultCode: ledger.ResultSuccess, FeeDrops: 12}},
		{name: "at ceiling", settlement: &ledger.Settlement{ResultCode: ledger.ResultSuccess, FeeDrops: 100}},
		{name: "above ceiling", settlement: &ledger.Settlement{ResultCode: ledger.ResultSuccess, FeeDrops: 101}, want: true},
		{name: "failed settlement ignored", settlement: &ledger.Settlement{ResultCode: "tecPATH_DRY", FeeDrops: 5000}},
		{name: "nil settlement", settlement: nil},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := FeeExceeded(tc.settlement, 100); got != tc.want {
				t.Fatalf("FeeExceeded() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAggregatorFinishWritesOnce(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	recorder := &sleepRecorder{}
	retrier := &writeRetrier{attempts: 3, backoff: 1, sleep: recorder.sleep, logger: zap.NewNop()}
	aggregator := newAggregator("batch-1", store, retrier, zap.NewNop())

	halt := domain.BatchResult{Successes: 1, MaxFeeExceeded: true}
	if err := aggregator.Finish(context.Background(), halt); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	err := aggregator.Finish(context.Background(), domain.BatchResult{Successes: 1})
	if !errors.Is(err, ErrResultAlreadyWritten) {
		t.Fatalf("second Finish() error = %v, want ErrResultAlreadyWritten", err)
	}

	if len(store.results) != 1 || store.results[0] != halt {
		t.Fatalf("results = %+v, want only the halt record", store.results)
	}
}

func TestWriteRetrierBacksOff(t *testing.T) {
	t.Parallel()

	recorder := &sleepRecorder{}
	retrier := &writeRetrier{attempts: 3, backoff: 10, sleep: recorder.sleep, logger: zap.NewNop()}

	calls := 0
	err := retrier.do(context.Background(), "payment_outcome", func(context.Context) error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(recorder.delays) != 2 || recorder.delays[0] != 10 || recorder.delays[1] != 20 {
		t.Fatalf("delays = %v, want [10 20]", recorder.delays)
	}
}

func TestWriteRetrierStopsOnPermanentErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "conflict", err: fmt.Errorf("%w: payment p1 already FAILED", domain.ErrConflict)},
		{name: "not found", err: domain.ErrNotFound},
		{name: "validation", err: fmt.Errorf("%w: outcome status is not terminal", domain.ErrValidation)},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			recorder := &sleepRecorder{}
			retrier := &writeRetrier{attempts: 3, backoff: 10, sleep: recorder.sleep, logger: zap.NewNop()}

			calls := 0
			err := retrier.do(context.Background(), "payment_outcome", func(context.Context) error {
				calls++
				return tc.err
			})
			if !errors.Is(err, tc.err) {
				t.Fatalf("do() error = %v, want %v", err, tc.err)
			}
			if calls != 1 {
				t.Fatalf("calls = %d, want 1", calls)
			}
			if len(recorder.delays) != 0 {
				t.Fatalf("delays = %v, want none", recorder.delays)
			}
		})
	}
}

func TestWriteRetrierIgnoresRunCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	retrier := &writeRetrier{attempts: 1, backoff: 1, sleep: sleepWithContext, logger: zap.NewNop()}
	err := retrier.do(ctx, "payment_outcome", func(writeCtx context.Context) error {
		return writeCtx.Err()
	})
	if err != nil {
		t.Fatalf("do() error = %v, want write context detached from cancellation", err)
	}
}

func TestSettingsValidate(t *testing.T) {
	t.Parallel()

	valid := testSettings()
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{name: "missing endpoint", mutate: func(s *Settings) { s.Endpoint = " " }},
		{name: "negative delay", mutate: func(s *Settings) { s.Delay = -1 }},
		{name: "zero max fee", mutate: func(s *Settings) { s.MaxFeeDrops = 0 }},
		{name: "negative fee estimate", mutate: func(s *Settings) { s.PerTxFee = decimal.NewFromInt(-1) }},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := testSettings()
			tc.mutate(&s)
			if err := s.Validate(); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}
