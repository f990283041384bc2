package service

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kursadbilgin/payout-engine/internal/disbursement"
	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/kursadbilgin/payout-engine/internal/keys"
	"github.com/kursadbilgin/payout-engine/internal/lock"
	"github.com/kursadbilgin/payout-engine/internal/notify"
	"github.com/kursadbilgin/payout-engine/internal/observability"
	"github.com/kursadbilgin/payout-engine/internal/queue"
)

type fakeBatchRepo struct {
	createFn              func(ctx context.Context, b *domain.Batch) error
	getByIDFn             func(ctx context.Context, id string) (*domain.Batch, error)
	getWithPaymentsFn     func(ctx context.Context, id string) (*domain.Batch, error)
	markQueuedFn          func(ctx context.Context, id string) error
	writePaymentOutcomeFn func(ctx context.Context, paymentID string, outcome domain.PaymentOutcome) error
	writeBatchResultFn    func(ctx context.Context, batchID string, result domain.BatchResult) error
}

func (f *fakeBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	if f.createFn != nil {
		return f.createFn(ctx, b)
	}
	return nil
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return &domain.Batch{ID: id, Status: domain.BatchStatusPending}, nil
}

func (f *fakeBatchRepo) GetWithPayments(ctx context.Context, id string) (*domain.Batch, error) {
	if f.getWithPaymentsFn != nil {
		return f.getWithPaymentsFn(ctx, id)
	}
	return &domain.Batch{ID: id, Status: domain.BatchStatusPending}, nil
}

func (f *fakeBatchRepo) MarkQueued(ctx context.Context, id string) error {
	if f.markQueuedFn != nil {
		return f.markQueuedFn(ctx, id)
	}
	return nil
}

func (f *fakeBatchRepo) WritePaymentOutcome(ctx context.Context, paymentID string, outcome domain.PaymentOutcome) error {
	if f.writePaymentOutcomeFn != nil {
		return f.writePaymentOutcomeFn(ctx, paymentID, outcome)
	}
	return nil
}

func (f *fakeBatchRepo) WriteBatchResult(ctx context.Context, batchID string, result domain.BatchResult) error {
	if f.writeBatchResultFn != nil {
		return f.writeBatchResultFn(ctx, batchID, result)
	}
	return nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.PayoutMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.PayoutMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeRunner struct {
	runFn     func(ctx context.Context, batchID string) (*disbursement.RunReport, error)
	addressFn func() (string, error)
}

func (f *fakeRunner) Run(ctx context.Context, batchID string) (*disbursement.RunReport, error) {
	if f.runFn != nil {
		return f.runFn(ctx, batchID)
	}
	return &disbursement.RunReport{BatchID: batchID}, nil
}

func (f *fakeRunner) FundingAddress() (string, error) {
	if f.addressFn != nil {
		return f.addressFn()
	}
	return "rFunding", nil
}

type fakeLocker struct {
	acquireFn func(ctx context.Context, key string) (lock.Lease, error)
	waitFn    func(ctx context.Context, key string) (lock.Lease, error)
}

func (f *fakeLocker) Acquire(ctx context.Context, key string) (lock.Lease, error) {
	if f.acquireFn != nil {
		return f.acquireFn(ctx, key)
	}
	return &fakeLease{key: key}, nil
}

func (f *fakeLocker) Wait(ctx context.Context, key string) (lock.Lease, error) {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return &fakeLease{key: key}, nil
}

type fakeLease struct {
	key       string
	refreshFn func(ctx context.Context) error
	refreshes atomic.Int32
	releases  atomic.Int32
}

func (l *fakeLease) Key() string { return l.key }

func (l *fakeLease) Refresh(ctx context.Context) error {
	l.refreshes.Add(1)
	if l.refreshFn != nil {
		return l.refreshFn(ctx)
	}
	return nil
}

func (l *fakeLease) Release(context.Context) error {
	l.releases.Add(1)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.ResultEvent
	err    error
}

func (f *fakeNotifier) NotifyResult(_ context.Context, event notify.ResultEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *fakeNotifier) sent() []notify.ResultEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.ResultEvent(nil), f.events...)
}

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

func assertMetricLine(t *testing.T, metrics *observability.Metrics, line string) {
	t.Helper()

	recorder := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(recorder.Result().Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), line) {
		t.Fatalf("metrics output missing %q", line)
	}
}
