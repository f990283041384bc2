package disbursement

import (
	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// RequiredFunds is the sum of all payment amounts plus one fee estimate per payment.
func RequiredFunds(instructions []domain.Payment, perTxFee decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, p := range instructions {
		total = total.Add(p.Amount)
	}
	fees := perTxFee.Mul(decimal.NewFromInt(int64(len(instructions))))
	return total.Add(fees)
}

// IsSolvent reports whether balance covers every payment and its estimated fee.
func IsSolvent(balance decimal.Decimal, instructions []domain.Payment, perTxFee decimal.Decimal) bool {
	return balance.GreaterThanOrEqual(RequiredFunds(instructions, perTxFee))
}
