// Package disbursement executes a batch of ledger payments from one funding account,
// one payment at a time, and records a single result for the batch.
package disbursement

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	defaultWriteRetries = 3
	defaultWriteBackoff = 200 * time.Millisecond
)

// Settings is the immutable run configuration. It is built once at process start.
type Settings struct {
	// Endpoint is the ledger JSON-RPC endpoint dialed for every run.
	Endpoint string
	// Delay is the pause before each submission.
	Delay time.Duration
	// MaxFeeDrops is the settled fee ceiling; a higher fee halts the batch.
	MaxFeeDrops int64
	// PerTxFee is the fee estimate per payment used by the solvency check, in XRP.
	PerTxFee decimal.Decimal
	// WriteRetries bounds the attempts of each batch store write.
	WriteRetries int
	// WriteBackoff is the first delay between store write attempts; it doubles per attempt.
	WriteBackoff time.Duration
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("%w: ledger endpoint is required", domain.ErrValidation)
	}
	if s.Delay < 0 {
		return fmt.Errorf("%w: delay must not be negative", domain.ErrValidation)
	}
	if s.MaxFeeDrops <= 0 {
		return fmt.Errorf("%w: max fee must be positive", domain.ErrValidation)
	}
	if s.PerTxFee.IsNegative() {
		return fmt.Errorf("%w: per transaction fee must not be negative", domain.ErrValidation)
	}
	return nil
}

func (s Settings) withDefaults() Settings {
	if s.WriteRetries <= 0 {
		s.WriteRetries = defaultWriteRetries
	}
	if s.WriteBackoff <= 0 {
		s.WriteBackoff = defaultWriteBackoff
	}
	return s
}
