package repository

import (
	"testing"

	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/shopspring/decimal"
)

func TestBatchModelFromDomainTotals(t *testing.T) {
	t.Parallel()

	batch := &domain.Batch{
		ID:     "b1",
		Status: domain.BatchStatusPending,
		Payments: []domain.Payment{
			{ID: "p1", BatchID: "b1", Sequence: 1, Destination: "rA", Amount: decimal.RequireFromString("40.5"), Status: domain.PaymentStatusPending},
			{ID: "p2", BatchID: "b1", Sequence: 2, Destination: "rB", Amount: decimal.RequireFromString("0.000001"), Status: domain.PaymentStatusPending},
		},
	}

	model := batchModelFromDomain(batch)
	if model.TotalCount != 2 {
		t.Fatalf("TotalCount = %d, want 2", model.TotalCount)
	}
	if !model.TotalAmount.Equal(decimal.RequireFromString("40.500001")) {
		t.Fatalf("TotalAmount = %s, want 40.500001", model.TotalAmount)
	}
	if model.Successes != nil || model.MaxFeeExceeded != nil {
		t.Fatal("result columns must stay empty for an unfinished batch")
	}
	if len(model.Payments) != 2 || model.Payments[1].Sequence != 2 {
		t.Fatalf("payments = %+v", model.Payments)
	}
}

func TestBatchModelToDomainResult(t *testing.T) {
	t.Parallel()

	successes, failures, skipped, exceeded := 2, 1, 1, true
	hash := "ABC"
	fee := int64(12)

	model := &BatchModel{
		ID:             "b1",
		Status:         domain.BatchStatusHalted,
		Finished:       true,
		Successes:      &successes,
		Failures:       &failures,
		Skipped:        &skipped,
		MaxFeeExceeded: &exceeded,
		Payments: []PaymentModel{
			{ID: "p1", BatchID: "b1", Sequence: 1, Status: domain.PaymentStatusSucceeded, TxHash: &hash, FeeDrops: &fee},
		},
	}

	batch := batchModelToDomain(model)
	want := domain.BatchResult{Successes: 2, Failures: 1, Skipped: 1, MaxFeeExceeded: true}
	if batch.Result == nil || *batch.Result != want {
		t.Fatalf("Result = %+v, want %+v", batch.Result, want)
	}
	if len(batch.Payments) != 1 || *batch.Payments[0].TxHash != "ABC" || *batch.Payments[0].FeeDrops != 12 {
		t.Fatalf("payments = %+v", batch.Payments)
	}
}

func TestBatchModelToDomainUnfinishedHasNoResult(t *testing.T) {
	t.Parallel()

	zero := 0
	batch := batchModelToDomain(&BatchModel{ID: "b1", Status: domain.BatchStatusQueued, Successes: &zero, Failures: &zero})
	if batch.Result != nil {
		t.Fatalf("Result = %+v, want nil", batch.Result)
	}
	if batch.Payments != nil {
		t.Fatalf("Payments = %+v, want nil for header-only reads", batch.Payments)
	}
}
