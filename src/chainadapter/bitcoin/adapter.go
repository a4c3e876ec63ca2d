// Package bitcoin implements ChainAdapter for Bitcoin (UTXO-based).
package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aurigraph/chainadapter"
	"github.com/aurigraph/chainadapter/rpc"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Adapter implements chainadapter.ChainAdapter for Bitcoin mainnet.
type Adapter struct {
	mu          sync.Mutex
	client      rpc.Client
	cfg         chainadapter.Config
	initialized bool
	params      *chaincfg.Params
}

// NewAdapter creates an uninitialized Bitcoin adapter.
func NewAdapter() *Adapter {
	return &Adapter{params: &chaincfg.MainNetParams}
}

// NewAdapterWithClient binds an existing RPC client. Used by tests.
func NewAdapterWithClient(client rpc.Client) *Adapter {
	return &Adapter{params: &chaincfg.MainNetParams, client: client, initialized: true}
}

// ChainID returns "bitcoin".
func (a *Adapter) ChainID() string {
	return "bitcoin"
}

// Info returns Bitcoin's static descriptor. Six confirmations is the
// conventional finality depth.
func (a *Adapter) Info() *chainadapter.ChainInfo {
	confirmations := 6
	if a.cfg.ConfirmationBlocks > 0 {
		confirmations = a.cfg.ConfirmationBlocks
	}
	return &chainadapter.ChainInfo{
		ChainID:             "bitcoin",
		Name:                "Bitcoin",
		NativeCurrency:      "BTC",
		Decimals:            8,
		BlockTimeMs:         600000,
		Consensus:           "proof-of-work",
		ConfirmationBlocks:  confirmations,
		SupportsDynamicFees: true,
	}
}

// Initialize connects to the configured bitcoind endpoint. Idempotent.
func (a *Adapter) Initialize(ctx context.Context, cfg chainadapter.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return nil
	}
	if cfg.RPCURL == "" {
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeNotInitialized, "rpc.url is required", nil)
	}
	client, err := rpc.NewHTTPClient([]string{cfg.RPCURL}, cfg.Timeout, nil)
	if err != nil {
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeNotInitialized, err.Error(), err)
	}
	a.client = client
	a.cfg = cfg
	a.initialized = true
	return nil
}

func (a *Adapter) rpcClient() (rpc.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized || a.client == nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeNotInitialized, "bitcoin adapter not initialized", nil)
	}
	return a.client, nil
}

// CheckConnection probes the node with getblockchaininfo.
func (a *Adapter) CheckConnection(ctx context.Context) (*chainadapter.ConnectionStatus, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	raw, err := client.Call(ctx, "getblockchaininfo", []interface{}{})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &chainadapter.ConnectionStatus{Connected: false, Err: err.Error()}, nil
	}
	var info struct {
		Blocks               uint64  `json:"blocks"`
		Headers              uint64  `json:"headers"`
		VerificationProgress float64 `json:"verificationprogress"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return &chainadapter.ConnectionStatus{Connected: false, Err: err.Error()}, nil
	}
	return &chainadapter.ConnectionStatus{
		Connected:     true,
		LatencyMs:     latency,
		Synced:        info.VerificationProgress > 0.9999,
		SyncedHeight:  info.Blocks,
		NetworkHeight: info.Headers,
	}, nil
}

// SendTransaction broadcasts the pre-signed raw transaction carried in
// Extra["rawTx"].
func (a *Adapter) SendTransaction(ctx context.Context, tx *chainadapter.TxRequest, opts *chainadapter.SendOptions) (*chainadapter.TxReceipt, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	if check := a.ValidateAddress(tx.To); !check.Valid {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, check.Reason, nil)
	}
	rawTx := ""
	if tx.Extra != nil {
		rawTx = tx.Extra["rawTx"]
	}
	if rawTx == "" {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidTransaction,
			"missing pre-signed rawTx payload", nil)
	}

	raw, err := client.Call(ctx, "sendrawtransaction", []interface{}{rawTx})
	if err != nil {
		return nil, classifySendError(err)
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, "malformed txid", nil, err)
	}

	return &chainadapter.TxReceipt{Hash: hash, Status: chainadapter.TxPending, Fee: "0"}, nil
}

// TransactionStatus queries getrawtransaction verbose for confirmations.
func (a *Adapter) TransactionStatus(ctx context.Context, hash string) (*chainadapter.TxStatusInfo, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	raw, err := client.Call(ctx, "getrawtransaction", []interface{}{hash, true})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no such mempool") {
			return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeTxNotFound, err.Error(), err)
		}
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, err.Error(), nil, err)
	}
	var info struct {
		Confirmations int `json:"confirmations"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, "malformed transaction", nil, err)
	}

	status := &chainadapter.TxStatusInfo{
		Confirmations: info.Confirmations,
		Success:       true,
	}
	switch {
	case info.Confirmations == 0:
		status.Status = chainadapter.TxPending
	case info.Confirmations >= a.Info().ConfirmationBlocks:
		status.Status = chainadapter.TxFinalized
	default:
		status.Status = chainadapter.TxConfirmed
	}
	return status, nil
}

// WaitForConfirmation polls until the required depth or the timeout.
// Bitcoin blocks are slow, so the poll interval is coarse.
func (a *Adapter) WaitForConfirmation(ctx context.Context, hash string, required int, timeout time.Duration) (*chainadapter.ConfirmationResult, error) {
	deadline := time.Now().Add(timeout)
	best := 0
	for {
		info, err := a.TransactionStatus(ctx, hash)
		if err == nil {
			if info.Confirmations > best {
				best = info.Confirmations
			}
			if best >= required {
				return &chainadapter.ConfirmationResult{Confirmed: true, ActualConfirmations: best}, nil
			}
		} else if !chainadapter.IsRetryable(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return &chainadapter.ConfirmationResult{Confirmed: false, ActualConfirmations: best, TimedOut: true}, nil
		}
		select {
		case <-ctx.Done():
			return &chainadapter.ConfirmationResult{Confirmed: false, ActualConfirmations: best, TimedOut: true}, nil
		case <-time.After(15 * time.Second):
		}
	}
}

// Balance scans the UTXO set for the address descriptor.
func (a *Adapter) Balance(ctx context.Context, address, asset string) (string, error) {
	client, err := a.rpcClient()
	if err != nil {
		return "", err
	}
	if asset != "" && !strings.EqualFold(asset, "BTC") {
		return "", chainadapter.NewNonRetryableError(chainadapter.ErrCodeUnsupportedAsset,
			fmt.Sprintf("asset %q not supported on bitcoin", asset), nil)
	}
	check := a.ValidateAddress(address)
	if !check.Valid {
		return "", chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, check.Reason, nil)
	}

	raw, err := client.Call(ctx, "scantxoutset", []interface{}{"start", []string{"addr(" + check.Normalized + ")"}})
	if err != nil {
		return "", chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, err.Error(), nil, err)
	}
	var result struct {
		TotalAmount float64 `json:"total_amount"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, "malformed scan result", nil, err)
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", result.TotalAmount), "0"), "."), nil
}

// EstimateFee uses estimatesmartfee at a 6-block target.
func (a *Adapter) EstimateFee(ctx context.Context, tx *chainadapter.TxRequest) (*chainadapter.FeeEstimate, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	raw, err := client.Call(ctx, "estimatesmartfee", []interface{}{6})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, err.Error(), nil, err)
	}
	var result struct {
		FeeRate float64 `json:"feerate"` // BTC per kvB
	}
	if err := json.Unmarshal(raw, &result); err != nil || result.FeeRate <= 0 {
		result.FeeRate = 0.0001
	}
	// Assume a typical 250 vB transfer.
	total := result.FeeRate * 250 / 1000
	return &chainadapter.FeeEstimate{
		Gas:      250,
		GasPrice: fmt.Sprintf("%.8f", result.FeeRate),
		Total:    fmt.Sprintf("%.8f", total),
		Speed:    chainadapter.FeeSpeedNormal,
	}, nil
}

// ValidateAddress accepts Bech32, P2PKH, and P2SH mainnet addresses.
func (a *Adapter) ValidateAddress(address string) *chainadapter.AddressCheck {
	decoded, err := btcutil.DecodeAddress(address, a.params)
	if err != nil {
		return &chainadapter.AddressCheck{Valid: false, Format: "unknown", Reason: err.Error()}
	}
	if !decoded.IsForNet(a.params) {
		return &chainadapter.AddressCheck{Valid: false, Format: "unknown", Reason: "address is not for mainnet"}
	}

	format := "unknown"
	switch decoded.(type) {
	case *btcutil.AddressWitnessPubKeyHash, *btcutil.AddressWitnessScriptHash, *btcutil.AddressTaproot:
		format = "bech32"
	case *btcutil.AddressPubKeyHash:
		format = "p2pkh"
	case *btcutil.AddressScriptHash:
		format = "p2sh"
	}
	return &chainadapter.AddressCheck{Valid: true, Format: format, Normalized: decoded.EncodeAddress()}
}

// SubscribeEvents polls block height and emits newBlock events.
func (a *Adapter) SubscribeEvents(ctx context.Context, filter chainadapter.EventFilter) (<-chan chainadapter.Event, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	events := make(chan chainadapter.Event, 4)
	go func() {
		defer close(events)
		var last uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
			}
			raw, err := client.Call(ctx, "getblockcount", []interface{}{})
			if err != nil {
				continue
			}
			var height uint64
			if json.Unmarshal(raw, &height) != nil || height == last {
				continue
			}
			last = height
			select {
			case events <- chainadapter.Event{
				ChainID:     "bitcoin",
				Type:        "newBlock",
				BlockNumber: height,
				ObservedAt:  time.Now().UTC(),
			}:
			default:
			}
		}
	}()
	return events, nil
}

// Shutdown closes the RPC client.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return nil
	}
	a.initialized = false
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

func classifySendError(err error) *chainadapter.ChainError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient"):
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeInsufficientFunds, err.Error(), err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"):
		return chainadapter.NewRetryableError(chainadapter.ErrCodeRPCTimeout, err.Error(), nil, err)
	default:
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidTransaction, err.Error(), err)
	}
}
