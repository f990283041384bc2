package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/kursadbilgin/payout-engine/internal/keys"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultRPCTimeout       = 10 * time.Second
	defaultPollInterval     = time.Second
	defaultLedgerOffset     = 20
	defaultFeeMultMax       = 1000
	defaultSettleTimeout    = 3 * time.Minute
	breakerFailureThreshold = 5
	breakerOpenTimeout      = 30 * time.Second
)

// RPCOptions tunes the JSON-RPC client. Zero values fall back to defaults.
type RPCOptions struct {
	Timeout time.Duration
	// PollInterval is the delay between settlement checks of a submitted transaction.
	PollInterval time.Duration
	// LedgerOffset is added to the current ledger index to form LastLedgerSequence.
	LedgerOffset uint32
	// FeeMultMax caps the transaction fee at this multiple of the base fee.
	FeeMultMax int
	// SettlementTimeout bounds the wait for a submitted transaction when expiry cannot be observed.
	SettlementTimeout time.Duration
}

// RPCDialer opens sessions against a rippled-compatible JSON-RPC endpoint.
// Transactions are signed in process and submitted as blobs; the seed is never sent.
type RPCDialer struct {
	opts    RPCOptions
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewRPCDialer(opts RPCOptions, logger *zap.Logger) *RPCDialer {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRPCTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.LedgerOffset == 0 {
		opts.LedgerOffset = defaultLedgerOffset
	}
	if opts.FeeMultMax <= 0 {
		opts.FeeMultMax = defaultFeeMultMax
	}
	if opts.SettlementTimeout <= 0 {
		opts.SettlementTimeout = defaultSettleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger-rpc",
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("ledger circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &RPCDialer{
		opts:    opts,
		breaker: breaker,
		logger:  logger,
	}
}

func (d *RPCDialer) Dial(ctx context.Context, endpoint string) (Session, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("ledger endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid ledger endpoint: %w", err)
	}

	client := resty.New()
	client.SetTimeout(d.opts.Timeout)
	client.SetRetryCount(0)

	s := &rpcSession{
		client:   client,
		endpoint: trimmed,
		opts:     d.opts,
		breaker:  d.breaker,
		logger:   d.logger,
	}
	s.connected.Store(true)

	var info serverInfoResult
	if err := s.call(ctx, "server_info", map[string]any{}, &info); err != nil {
		s.connected.Store(false)
		return nil, fmt.Errorf("failed to connect %s: %w", trimmed, err)
	}

	d.logger.Info("ledger session opened",
		zap.String("endpoint", trimmed),
		zap.String("serverState", info.Info.ServerState),
		zap.String("buildVersion", info.Info.BuildVersion),
	)
	return s, nil
}

type rpcSession struct {
	client    *resty.Client
	endpoint  string
	opts      RPCOptions
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
	connected atomic.Bool
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
}

type rpcStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

type serverInfoResult struct {
	Info struct {
		ServerState  string `json:"server_state"`
		BuildVersion string `json:"build_version"`
	} `json:"info"`
}

type accountInfoResult struct {
	AccountData *struct {
		Account  string `json:"Account"`
		Balance  string `json:"Balance"`
		Sequence uint32 `json:"Sequence"`
	} `json:"account_data"`
}

type ledgerCurrentResult struct {
	LedgerCurrentIndex flexIndex `json:"ledger_current_index"`
}

type ledgerResult struct {
	LedgerIndex flexIndex `json:"ledger_index"`
}

type feeResult struct {
	Drops struct {
		BaseFee       string `json:"base_fee"`
		OpenLedgerFee string `json:"open_ledger_fee"`
	} `json:"drops"`
}

type submitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	TxJSON              struct {
		Hash string `json:"hash"`
	} `json:"tx_json"`
}

type txResult struct {
	Hash        string    `json:"hash"`
	Fee         string    `json:"Fee"`
	LedgerIndex flexIndex `json:"ledger_index"`
	Validated   bool      `json:"validated"`
	Meta        *struct {
		TransactionResult string `json:"TransactionResult"`
	} `json:"meta"`
}

// flexIndex accepts ledger indexes encoded either as numbers or as decimal strings.
type flexIndex uint32

func (f *flexIndex) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return fmt.Errorf("%w: ledger index %q", ErrMalformedResponse, raw)
	}
	*f = flexIndex(v)
	return nil
}

func (s *rpcSession) IsConnected() bool {
	return s != nil && s.connected.Load()
}

func (s *rpcSession) Close() error {
	if s == nil || !s.connected.Swap(false) {
		return nil
	}
	s.client.GetClient().CloseIdleConnections()
	return nil
}

func (s *rpcSession) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	info, err := s.AccountInfo(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return FromDrops(info.BalanceDrops), nil
}

func (s *rpcSession) AccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	var result accountInfoResult
	params := map[string]any{
		"account":      address,
		"ledger_index": "validated",
	}
	if err := s.call(ctx, "account_info", params, &result); err != nil {
		return nil, err
	}
	if result.AccountData == nil {
		return nil, fmt.Errorf("%w: account_info without account_data", ErrMalformedResponse)
	}

	balance, err := strconv.ParseInt(result.AccountData.Balance, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: balance %q", ErrMalformedResponse, result.AccountData.Balance)
	}

	return &AccountInfo{
		Account:      result.AccountData.Account,
		BalanceDrops: balance,
		Sequence:     result.AccountData.Sequence,
	}, nil
}

// SubmitAndWait signs the payment locally, submits the blob and tracks it until it is
// validated or its LastLedgerSequence has passed.
func (s *rpcSession) SubmitAndWait(ctx context.Context, identity domain.Identity, payment Payment) (*Settlement, error) {
	pair, err := keys.KeyPairFromSeed(identity.Secret())
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	if pair.Address() != identity.Address {
		return nil, fmt.Errorf("%w: signing key belongs to %s, not %s", keys.ErrAddressMismatch, pair.Address(), identity.Address)
	}
	account, err := keys.DecodeAddress(identity.Address)
	if err != nil {
		return nil, err
	}
	destination, err := keys.DecodeAddress(payment.Destination)
	if err != nil {
		return nil, err
	}

	sequence, err := s.nextSequence(ctx, identity.Address)
	if err != nil {
		return nil, err
	}
	fee, err := s.transactionFee(ctx)
	if err != nil {
		return nil, err
	}
	var current ledgerCurrentResult
	if err := s.call(ctx, "ledger_current", map[string]any{}, &current); err != nil {
		return nil, err
	}
	lastLedger := uint32(current.LedgerCurrentIndex) + s.opts.LedgerOffset

	tx := paymentTx{
		Account:            account,
		Destination:        destination,
		AmountDrops:        payment.AmountDrops,
		FeeDrops:           fee,
		Sequence:           sequence,
		LastLedgerSequence: lastLedger,
		SigningPubKey:      pair.PublicKey(),
	}
	blob, hash, err := signTransaction(pair, tx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.SettlementTimeout)
	defer cancel()

	var submitted submitResult
	params := map[string]any{
		"tx_blob":   hex.EncodeToString(blob),
		"fail_hard": true,
	}
	if err := s.call(ctx, "submit", params, &submitted); err != nil {
		return nil, err
	}
	if submitted.TxJSON.Hash != "" && !strings.EqualFold(submitted.TxJSON.Hash, hash) {
		s.logger.Warn("node reported a different transaction hash",
			zap.String("txHash", hash),
			zap.String("nodeHash", submitted.TxJSON.Hash),
		)
	}

	if !pendingValidation(submitted.EngineResult) {
		return &Settlement{
			Hash:       hash,
			ResultCode: submitted.EngineResult,
			FeeDrops:   fee,
		}, nil
	}

	return s.waitForValidation(ctx, hash, lastLedger)
}

func signTransaction(pair *keys.KeyPair, tx paymentTx) ([]byte, string, error) {
	payload, err := tx.signingPayload()
	if err != nil {
		return nil, "", err
	}
	signature, err := pair.Sign(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	tx.TxnSignature = signature

	blob, err := tx.encode(true)
	if err != nil {
		return nil, "", err
	}
	return blob, transactionHash(blob), nil
}

// nextSequence reads the account sequence from the open ledger.
func (s *rpcSession) nextSequence(ctx context.Context, address string) (uint32, error) {
	var result accountInfoResult
	params := map[string]any{
		"account":      address,
		"ledger_index": "current",
	}
	if err := s.call(ctx, "account_info", params, &result); err != nil {
		return 0, err
	}
	if result.AccountData == nil {
		return 0, fmt.Errorf("%w: account_info without account_data", ErrMalformedResponse)
	}
	return result.AccountData.Sequence, nil
}

// transactionFee returns the open ledger fee, refusing fees above FeeMultMax times the base fee.
func (s *rpcSession) transactionFee(ctx context.Context) (int64, error) {
	var result feeResult
	if err := s.call(ctx, "fee", map[string]any{}, &result); err != nil {
		return 0, err
	}

	base, err := strconv.ParseInt(result.Drops.BaseFee, 10, 64)
	if err != nil || base <= 0 {
		return 0, fmt.Errorf("%w: base fee %q", ErrMalformedResponse, result.Drops.BaseFee)
	}
	fee := base
	if open, err := strconv.ParseInt(result.Drops.OpenLedgerFee, 10, 64); err == nil && open > fee {
		fee = open
	}

	if limit := base * int64(s.opts.FeeMultMax); fee > limit {
		return 0, fmt.Errorf("%w: %d drops, limit %d", ErrFeeTooHigh, fee, limit)
	}
	return fee, nil
}

// pendingValidation reports whether a preliminary result may still end up in a validated ledger.
func pendingValidation(engineResult string) bool {
	return strings.HasPrefix(engineResult, "tes") || strings.HasPrefix(engineResult, "ter")
}

func (s *rpcSession) waitForValidation(ctx context.Context, hash string, lastLedger uint32) (*Settlement, error) {
	for {
		// The validated index is read before the transaction so that a miss after
		// lastLedger closed is final.
		var validated ledgerResult
		validatedErr := s.call(ctx, "ledger", map[string]any{"ledger_index": "validated"}, &validated)

		var tx txResult
		txErr := s.call(ctx, "tx", map[string]any{"transaction": hash, "binary": false}, &tx)
		if txErr == nil && tx.Validated {
			return settlementFromTx(hash, tx)
		}
		if txErr != nil && !IsNotFound(txErr) {
			s.logger.Warn("transaction status check failed",
				zap.String("txHash", hash),
				zap.Error(txErr),
			)
		}

		if validatedErr == nil && uint32(validated.LedgerIndex) > lastLedger {
			return nil, fmt.Errorf("%w: %s (last ledger %d)", ErrTransactionExpired, hash, lastLedger)
		}

		if err := sleepWithContext(ctx, s.opts.PollInterval); err != nil {
			return nil, err
		}
	}
}

func settlementFromTx(hash string, tx txResult) (*Settlement, error) {
	if tx.Meta == nil || tx.Meta.TransactionResult == "" {
		return nil, fmt.Errorf("%w: validated transaction without result", ErrMalformedResponse)
	}
	fee, err := strconv.ParseInt(tx.Fee, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: fee %q", ErrMalformedResponse, tx.Fee)
	}
	if tx.Hash != "" {
		hash = tx.Hash
	}

	return &Settlement{
		Hash:        hash,
		ResultCode:  tx.Meta.TransactionResult,
		FeeDrops:    fee,
		LedgerIndex: uint32(tx.LedgerIndex),
		Validated:   true,
	}, nil
}

func (s *rpcSession) call(ctx context.Context, method string, params any, out any) error {
	if !s.IsConnected() {
		return ErrSessionClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	raw, err := s.breaker.Execute(func() (any, error) {
		response, err := s.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(rpcRequest{Method: method, Params: []any{params}}).
			Post(s.endpoint)
		if err != nil {
			return nil, fmt.Errorf("%s request failed: %w", method, err)
		}
		if response.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("%s returned status %d", method, response.StatusCode())
		}
		return response.Body(), nil
	})
	if err != nil {
		return err
	}

	body, _ := raw.([]byte)
	var envelope rpcEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Result) == 0 {
		return fmt.Errorf("%w: %s response without result", ErrMalformedResponse, method)
	}

	var status rpcStatus
	if err := json.Unmarshal(envelope.Result, &status); err != nil {
		return fmt.Errorf("%w: %s status: %v", ErrMalformedResponse, method, err)
	}
	if status.Status == "error" || status.Error != "" {
		return &RPCError{Method: method, Code: status.Error, Message: status.ErrorMessage}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%w: %s result: %v", ErrMalformedResponse, method, err)
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
