package disbursement

import "github.com/kursadbilgin/payout-engine/internal/ledger"

// FeeExceeded reports whether a settled fee is above the configured ceiling.
// Only successful settlements are evaluated.
func FeeExceeded(settlement *ledger.Settlement, maxFeeDrops int64) bool {
	if !settlement.Succeeded() {
		return false
	}
	return settlement.FeeDrops > maxFeeDrops
}
