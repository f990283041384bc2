// Package ledger is the client side of the distributed ledger: sessions, account
// queries and payment submission with settlement tracking.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// ResultSuccess is the only settlement code that counts as an unconditional success.
const ResultSuccess = "tesSUCCESS"

var (
	ErrSessionClosed      = errors.New("ledger session is closed")
	ErrTransactionExpired = errors.New("transaction expired before validation")
	ErrMalformedResponse  = errors.New("malformed ledger response")
	ErrFeeTooHigh         = errors.New("open ledger fee above limit")
)

// Dialer opens a ledger session. One session serves exactly one payout run.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Session, error)
}

// Session is a live connection to a ledger node.
type Session interface {
	IsConnected() bool
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
	AccountInfo(ctx context.Context, address string) (*AccountInfo, error)
	SubmitAndWait(ctx context.Context, identity domain.Identity, payment Payment) (*Settlement, error)
	Close() error
}

// AccountInfo is the validated-ledger view of an account.
type AccountInfo struct {
	Account      string
	BalanceDrops int64
	Sequence     uint32
}

// Payment is a ready-to-submit transfer in atomic units.
type Payment struct {
	Destination string
	AmountDrops int64
}

// Settlement is the ledger's final outcome for a submitted transaction.
type Settlement struct {
	Hash        string
	ResultCode  string
	FeeDrops    int64
	LedgerIndex uint32
	Validated   bool
}

func (s *Settlement) Succeeded() bool {
	return s != nil && s.ResultCode == ResultSuccess
}

// RPCError is an error status reported by the ledger node for a request.
type RPCError struct {
	Method  string
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := []string{"ledger rpc error", e.Method}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	return strings.Join(parts, ": ")
}

// IsNotFound reports whether err is the node saying an account or transaction is unknown.
func IsNotFound(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.Code {
	case "actNotFound", "txnNotFound", "lgrNotFound":
		return true
	}
	return false
}

// Network names a well-known ledger network.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
	NetworkDevnet  Network = "devnet"
)

var networkEndpoints = map[Network]string{
	NetworkMainnet: "https://xrplcluster.com",
	NetworkTestnet: "https://s.altnet.rippletest.net:51234",
	NetworkDevnet:  "https://s.devnet.rippletest.net:51234",
}

// Endpoint resolves the JSON-RPC endpoint for a network name.
func Endpoint(network string) (string, error) {
	endpoint, ok := networkEndpoints[Network(strings.ToLower(strings.TrimSpace(network)))]
	if !ok {
		return "", fmt.Errorf("%w: unknown ledger network %q", domain.ErrValidation, network)
	}
	return endpoint, nil
}
