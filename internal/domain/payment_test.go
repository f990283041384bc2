package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParsePaymentStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    PaymentStatus
		wantErr bool
	}{
		{name: "valid uppercase", input: "SUCCEEDED", want: PaymentStatusSucceeded},
		{name: "valid lowercase with spaces", input: " skipped ", want: PaymentStatusSkipped},
		{name: "invalid", input: "paid", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParsePaymentStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParsePaymentStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParsePaymentStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParsePaymentStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPaymentStatusIsTerminal(t *testing.T) {
	t.Parallel()

	if PaymentStatusPending.IsTerminal() {
		t.Fatal("PENDING must not be terminal")
	}
	for _, st := range []PaymentStatus{PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusSkipped} {
		if !st.IsTerminal() {
			t.Fatalf("%s should be terminal", st)
		}
	}
}

func TestBatchValidate(t *testing.T) {
	t.Parallel()

	base := func() Batch {
		return Batch{
			ID: "b1",
			Payments: []Payment{
				{Destination: "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", Amount: decimal.RequireFromString("1.5")},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Batch)
		wantErr bool
	}{
		{
			name:   "valid batch",
			mutate: func(b *Batch) {},
		},
		{
			name: "missing id",
			mutate: func(b *Batch) {
				b.ID = " "
			},
			wantErr: true,
		},
		{
			name: "no payments",
			mutate: func(b *Batch) {
				b.Payments = nil
			},
			wantErr: true,
		},
		{
			name: "zero amount",
			mutate: func(b *Batch) {
				b.Payments[0].Amount = decimal.Zero
			},
			wantErr: true,
		},
		{
			name: "negative amount",
			mutate: func(b *Batch) {
				b.Payments[0].Amount = decimal.RequireFromString("-2")
			},
			wantErr: true,
		},
		{
			name: "missing destination",
			mutate: func(b *Batch) {
				b.Payments[0].Destination = ""
			},
			wantErr: true,
		},
		{
			name: "too many payments",
			mutate: func(b *Batch) {
				p := b.Payments[0]
				b.Payments = make([]Payment, MaxBatchPayments+1)
				for i := range b.Payments {
					b.Payments[i] = p
				}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base()
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestBatchPending(t *testing.T) {
	t.Parallel()

	b := &Batch{
		Payments: []Payment{
			{ID: "p1", Status: PaymentStatusSucceeded},
			{ID: "p2", Status: PaymentStatusPending},
			{ID: "p3", Status: PaymentStatusSkipped},
			{ID: "p4", Status: PaymentStatusPending},
		},
	}

	pending := b.Pending()
	if len(pending) != 2 {
		t.Fatalf("Pending() len = %d, want 2", len(pending))
	}
	if pending[0].ID != "p2" || pending[1].ID != "p4" {
		t.Fatalf("Pending() order = [%s %s], want [p2 p4]", pending[0].ID, pending[1].ID)
	}
}

func TestBatchResultStatus(t *testing.T) {
	t.Parallel()

	if got := (BatchResult{Successes: 1}).Status(); got != BatchStatusCompleted {
		t.Fatalf("Status() = %s, want COMPLETED", got)
	}
	if got := (BatchResult{Successes: 1, MaxFeeExceeded: true}).Status(); got != BatchStatusHalted {
		t.Fatalf("Status() = %s, want HALTED", got)
	}
}

func TestIdentityStringHidesSecret(t *testing.T) {
	t.Parallel()

	id := NewIdentity("rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", KeyTypeSecp256k1, "snoPBrXtMeMyMHUVTgbuqAfg1SUTb")
	if strings.Contains(id.String(), id.Secret()) {
		t.Fatalf("String() = %q leaks the secret", id.String())
	}
	if id.Secret() != "snoPBrXtMeMyMHUVTgbuqAfg1SUTb" {
		t.Fatalf("Secret() = %q", id.Secret())
	}
}
