package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the lifecycle state of a single payment instruction.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusSkipped   PaymentStatus = "SKIPPED"
)

func (s PaymentStatus) String() string { return string(s) }

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a final outcome that must never be revised.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusSkipped:
		return true
	}
	return false
}

func ParsePaymentStatusFromString(s string) (PaymentStatus, error) {
	st := PaymentStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid payment status %q", ErrValidation, s)
	}
	return st, nil
}

// Payment is one (destination, amount) instruction of a batch. Amount is in XRP display units.
type Payment struct {
	ID          string
	BatchID     string
	Sequence    int
	Destination string
	Amount      decimal.Decimal
	Status      PaymentStatus
	TxHash      *string
	FeeDrops    *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p *Payment) Validate() error {
	if strings.TrimSpace(p.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrValidation)
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	return nil
}

// PaymentOutcome is the terminal record appended against a payment id.
type PaymentOutcome struct {
	Status   PaymentStatus
	TxHash   string
	FeeDrops int64
}

func SkippedOutcome() PaymentOutcome {
	return PaymentOutcome{Status: PaymentStatusSkipped}
}

func FailedOutcome() PaymentOutcome {
	return PaymentOutcome{Status: PaymentStatusFailed}
}

func SucceededOutcome(txHash string, feeDrops int64) PaymentOutcome {
	return PaymentOutcome{
		Status:   PaymentStatusSucceeded,
		TxHash:   txHash,
		FeeDrops: feeDrops,
	}
}
