package disbursement

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/kursadbilgin/payout-engine/internal/keys"
	"github.com/kursadbilgin/payout-engine/internal/ledger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	fundingSeed    = "snoPBrXtMeMyMHUVTgbuqAfg1SUTb"
	fundingAddress = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	testEndpoint   = "http://ledger.test:51234"
)

var _ ledger.Session = (*fakeSession)(nil)
var _ ledger.Dialer = (*fakeDialer)(nil)
var _ Store = (*fakeStore)(nil)

type fakeSession struct {
	mu sync.Mutex

	// accounts maps an address to its balance in drops; unknown addresses are actNotFound.
	accounts      map[string]int64
	accountInfoFn func(ctx context.Context, address string) (*ledger.AccountInfo, error)
	balanceFn     func(ctx context.Context, address string) (decimal.Decimal, error)
	submitFn      func(ctx context.Context, identity domain.Identity, payment ledger.Payment) (*ledger.Settlement, error)

	accountQueries int
	submitted      []ledger.Payment
	closed         bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{accounts: map[string]int64{}}
}

func (s *fakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *fakeSession) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if s.balanceFn != nil {
		return s.balanceFn(ctx, address)
	}
	info, err := s.AccountInfo(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return ledger.FromDrops(info.BalanceDrops), nil
}

func (s *fakeSession) AccountInfo(ctx context.Context, address string) (*ledger.AccountInfo, error) {
	s.mu.Lock()
	s.accountQueries++
	s.mu.Unlock()

	if s.accountInfoFn != nil {
		return s.accountInfoFn(ctx, address)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.accounts[address]
	if !ok {
		return nil, &ledger.RPCError{Method: "account_info", Code: "actNotFound"}
	}
	return &ledger.AccountInfo{Account: address, BalanceDrops: balance, Sequence: 1}, nil
}

func (s *fakeSession) SubmitAndWait(ctx context.Context, identity domain.Identity, payment ledger.Payment) (*ledger.Settlement, error) {
	s.mu.Lock()
	s.submitted = append(s.submitted, payment)
	n := len(s.submitted)
	s.mu.Unlock()

	if s.submitFn != nil {
		return s.submitFn(ctx, identity, payment)
	}
	return &ledger.Settlement{
		Hash:       "TX" + strconv.Itoa(n),
		ResultCode: ledger.ResultSuccess,
		FeeDrops:   12,
		Validated:  true,
	}, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) submittedDestinations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.submitted))
	for _, p := range s.submitted {
		out = append(out, p.Destination)
	}
	return out
}

type fakeDialer struct {
	session *fakeSession
	dialFn  func(ctx context.Context, endpoint string) (ledger.Session, error)
	dials   int
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (ledger.Session, error) {
	d.dials++
	if d.dialFn != nil {
		return d.dialFn(ctx, endpoint)
	}
	return d.session, nil
}

type fakeStore struct {
	mu sync.Mutex

	batches          map[string]*domain.Batch
	getFn            func(ctx context.Context, batchID string) (*domain.Batch, error)
	writeOutcomeFn   func(ctx context.Context, paymentID string, outcome domain.PaymentOutcome) error
	writeResultFn    func(ctx context.Context, batchID string, result domain.BatchResult) error
	outcomes         map[string]domain.PaymentOutcome
	outcomeOrder     []string
	results          []domain.BatchResult
	outcomeWriteCall int
}

func newFakeStore(batches ...*domain.Batch) *fakeStore {
	store := &fakeStore{
		batches:  map[string]*domain.Batch{},
		outcomes: map[string]domain.PaymentOutcome{},
	}
	for _, b := range batches {
		store.batches[b.ID] = b
	}
	return store
}

func (s *fakeStore) GetWithPayments(ctx context.Context, batchID string) (*domain.Batch, error) {
	if s.getFn != nil {
		return s.getFn(ctx, batchID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *batch
	copied.Payments = append([]domain.Payment(nil), batch.Payments...)
	return &copied, nil
}

func (s *fakeStore) WritePaymentOutcome(ctx context.Context, paymentID string, outcome domain.PaymentOutcome) error {
	s.mu.Lock()
	s.outcomeWriteCall++
	s.mu.Unlock()

	if s.writeOutcomeFn != nil {
		if err := s.writeOutcomeFn(ctx, paymentID, outcome); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[paymentID] = outcome
	s.outcomeOrder = append(s.outcomeOrder, paymentID)
	return nil
}

func (s *fakeStore) WriteBatchResult(ctx context.Context, batchID string, result domain.BatchResult) error {
	if s.writeResultFn != nil {
		if err := s.writeResultFn(ctx, batchID, result); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

// applyOutcomes copies recorded outcomes onto the stored batch, as the database would.
func (s *fakeStore) applyOutcomes(batchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.batches[batchID]
	for i := range batch.Payments {
		outcome, ok := s.outcomes[batch.Payments[i].ID]
		if !ok {
			continue
		}
		hash := outcome.TxHash
		batch.Payments[i].Status = outcome.Status
		batch.Payments[i].TxHash = &hash
	}
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomeOrder) + len(s.results)
}

// sleepRecorder replaces the context-aware sleep and records every requested delay.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) count(d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, delay := range r.delays {
		if delay == d {
			n++
		}
	}
	return n
}

func testSettings() Settings {
	return Settings{
		Endpoint:     testEndpoint,
		Delay:        time.Second,
		MaxFeeDrops:  10_000,
		PerTxFee:     decimal.RequireFromString("0.00003"),
		WriteRetries: 3,
		WriteBackoff: 10 * time.Millisecond,
	}
}

// testAddress derives a distinct, well-formed classic address for index n.
func testAddress(t *testing.T, n byte) string {
	t.Helper()

	seed, err := keys.EncodeSeed(bytes.Repeat([]byte{n}, 16), domain.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("EncodeSeed() error = %v", err)
	}
	identity, err := keys.FromSeed(seed)
	if err != nil {
		t.Fatalf("FromSeed() error = %v", err)
	}
	return identity.Address
}

func testBatch(t *testing.T, id string, amounts ...string) *domain.Batch {
	t.Helper()

	batch := &domain.Batch{ID: id, Status: domain.BatchStatusQueued}
	for i, amount := range amounts {
		batch.Payments = append(batch.Payments, domain.Payment{
			ID:          fmt.Sprintf("%s-p%d", id, i+1),
			BatchID:     id,
			Sequence:    i + 1,
			Destination: testAddress(t, byte(i+1)),
			Amount:      decimal.RequireFromString(amount),
			Status:      domain.PaymentStatusPending,
		})
	}
	return batch
}

// fundedSession knows the funding account and every destination of the batch.
func fundedSession(batch *domain.Batch, fundingDrops int64) *fakeSession {
	session := newFakeSession()
	session.accounts[fundingAddress] = fundingDrops
	for _, p := range batch.Payments {
		session.accounts[p.Destination] = 20_000_000
	}
	return session
}

func newTestEngine(t *testing.T, store Store, session *fakeSession, settings Settings) (*Engine, *fakeDialer, *sleepRecorder) {
	t.Helper()

	dialer := &fakeDialer{session: session}
	engine, err := NewEngine(store, dialer, keys.Material{FamilySeed: fundingSeed}, settings, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	recorder := &sleepRecorder{}
	engine.sleep = recorder.sleep
	return engine, dialer, recorder
}
