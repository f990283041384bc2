package disbursement

import (
	"context"

	"github.com/kursadbilgin/payout-engine/internal/keys"
	"github.com/kursadbilgin/payout-engine/internal/ledger"
	"go.uber.org/zap"
)

// ExistenceGuard decides whether a destination account exists on the validated ledger.
// Any doubt is answered with "does not exist".
type ExistenceGuard struct {
	logger *zap.Logger
}

func NewExistenceGuard(logger *zap.Logger) *ExistenceGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExistenceGuard{logger: logger}
}

func (g *ExistenceGuard) Exists(ctx context.Context, session ledger.Session, address string) bool {
	if session == nil || !keys.IsValidAddress(address) {
		g.logger.Debug("destination rejected before query", zap.String("destination", address))
		return false
	}

	info, err := session.AccountInfo(ctx, address)
	if err != nil {
		if !ledger.IsNotFound(err) {
			g.logger.Warn("destination lookup failed",
				zap.String("destination", address),
				zap.Error(err),
			)
		}
		return false
	}
	if info == nil || info.BalanceDrops <= 0 {
		return false
	}
	return true
}
