package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the processing state of a payment batch.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "PENDING"
	BatchStatusQueued    BatchStatus = "QUEUED"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusHalted    BatchStatus = "HALTED"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusQueued, BatchStatusCompleted, BatchStatusHalted:
		return true
	}
	return false
}

// MaxBatchPayments bounds how many payments one batch may carry.
const MaxBatchPayments = 1000

// BatchResult is the summary written once when a payout run ends.
// Failures includes skipped payments; Skipped is reported separately for auditing.
type BatchResult struct {
	Successes      int  `json:"successes"`
	Failures       int  `json:"failures"`
	Skipped        int  `json:"skipped"`
	MaxFeeExceeded bool `json:"maxFeeExceeded"`
}

// Visited returns how many payments reached a terminal outcome.
func (r BatchResult) Visited() int {
	return r.Successes + r.Failures
}

// Status maps the result to the terminal batch status.
func (r BatchResult) Status() BatchStatus {
	if r.MaxFeeExceeded {
		return BatchStatusHalted
	}
	return BatchStatusCompleted
}

// Batch groups payments disbursed from one funding account in a single run.
type Batch struct {
	ID        string
	Status    BatchStatus
	Finished  bool
	Result    *BatchResult
	Payments  []Payment
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pending returns the payments that have not reached a terminal outcome, in batch order.
func (b *Batch) Pending() []Payment {
	if b == nil {
		return nil
	}

	pending := make([]Payment, 0, len(b.Payments))
	for _, p := range b.Payments {
		if !p.Status.IsTerminal() {
			pending = append(pending, p)
		}
	}
	return pending
}

func (b *Batch) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: batch is required", ErrValidation)
	}
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("%w: batch id is required", ErrValidation)
	}
	if len(b.Payments) == 0 {
		return fmt.Errorf("%w: batch must include at least one payment", ErrValidation)
	}
	if len(b.Payments) > MaxBatchPayments {
		return fmt.Errorf("%w: batch size exceeds %d", ErrValidation, MaxBatchPayments)
	}

	for i := range b.Payments {
		if err := b.Payments[i].Validate(); err != nil {
			return fmt.Errorf("payment %d: %w", i, err)
		}
	}
	return nil
}
