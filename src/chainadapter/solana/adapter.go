// Package solana implements ChainAdapter for Solana. Finality is
// expressed as commitment levels rather than block depth: the adapter
// maps "processed"/"confirmed"/"finalized" onto confirmation counts.
package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aurigraph/chainadapter"
	"github.com/aurigraph/chainadapter/rpc"
	solanapkg "github.com/gagliardetto/solana-go"
)

// commitment level mapped onto confirmation counts for the uniform
// contract: processed=0, confirmed=1, finalized=32 (a rooted slot).
const (
	confProcessed = 0
	confConfirmed = 1
	confFinalized = 32
)

// Adapter implements chainadapter.ChainAdapter for Solana mainnet-beta.
type Adapter struct {
	mu          sync.Mutex
	client      rpc.Client
	cfg         chainadapter.Config
	initialized bool
}

// NewAdapter creates an uninitialized Solana adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// NewAdapterWithClient binds an existing RPC client. Used by tests.
func NewAdapterWithClient(client rpc.Client) *Adapter {
	return &Adapter{client: client, initialized: true}
}

// ChainID returns "solana".
func (a *Adapter) ChainID() string {
	return "solana"
}

// Info returns Solana's static descriptor. ConfirmationBlocks carries
// the finalized-commitment equivalent.
func (a *Adapter) Info() *chainadapter.ChainInfo {
	confirmations := confFinalized
	if a.cfg.ConfirmationBlocks > 0 {
		confirmations = a.cfg.ConfirmationBlocks
	}
	return &chainadapter.ChainInfo{
		ChainID:             "solana",
		Name:                "Solana",
		NativeCurrency:      "SOL",
		Decimals:            9,
		BlockTimeMs:         400,
		Consensus:           "proof-of-history",
		ConfirmationBlocks:  confirmations,
		SupportsDynamicFees: false,
		Extra:               map[string]string{"commitment": "finalized"},
	}
}

// Initialize connects the RPC client. Idempotent.
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
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeNotInitialized, "solana adapter not initialized", nil)
	}
	return a.client, nil
}

// CheckConnection probes getHealth and getSlot.
func (a *Adapter) CheckConnection(ctx context.Context) (*chainadapter.ConnectionStatus, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	healthRaw, err := client.Call(ctx, "getHealth", []interface{}{})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &chainadapter.ConnectionStatus{Connected: false, Err: err.Error()}, nil
	}
	var health string
	_ = json.Unmarshal(healthRaw, &health)

	status := &chainadapter.ConnectionStatus{
		Connected: true,
		LatencyMs: latency,
		Synced:    health == "ok",
	}
	if verRaw, err := client.Call(ctx, "getVersion", []interface{}{}); err == nil {
		var ver struct {
			SolanaCore string `json:"solana-core"`
		}
		if json.Unmarshal(verRaw, &ver) == nil {
			status.NodeVersion = ver.SolanaCore
		}
	}
	if slotRaw, err := client.Call(ctx, "getSlot", []interface{}{}); err == nil {
		var slot uint64
		if json.Unmarshal(slotRaw, &slot) == nil {
			status.SyncedHeight = slot
			status.NetworkHeight = slot
		}
	}
	return status, nil
}

// SendTransaction submits the base64 pre-signed transaction carried in
// Extra["signedTx"].
func (a *Adapter) SendTransaction(ctx context.Context, tx *chainadapter.TxRequest, opts *chainadapter.SendOptions) (*chainadapter.TxReceipt, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	if check := a.ValidateAddress(tx.To); !check.Valid {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, check.Reason, nil)
	}
	signed := ""
	if tx.Extra != nil {
		signed = tx.Extra["signedTx"]
	}
	if signed == "" {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidTransaction,
			"missing pre-signed signedTx payload", nil)
	}

	raw, err := client.Call(ctx, "sendTransaction", []interface{}{signed, map[string]string{"encoding": "base64"}})
	if err != nil {
		return nil, classifySendError(err)
	}
	var signature string
	if err := json.Unmarshal(raw, &signature); err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, "malformed signature", nil, err)
	}
	return &chainadapter.TxReceipt{Hash: signature, Status: chainadapter.TxPending, Fee: "0.000005"}, nil
}

// TransactionStatus maps commitment levels onto the uniform status.
func (a *Adapter) TransactionStatus(ctx context.Context, hash string) (*chainadapter.TxStatusInfo, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	raw, err := client.Call(ctx, "getSignatureStatuses",
		[]interface{}{[]string{hash}, map[string]bool{"searchTransactionHistory": true}})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, err.Error(), nil, err)
	}
	var result struct {
		Value []*struct {
			Slot               uint64          `json:"slot"`
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, "malformed status", nil, err)
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return &chainadapter.TxStatusInfo{Status: chainadapter.TxPending, Confirmations: confProcessed}, nil
	}

	v := result.Value[0]
	info := &chainadapter.TxStatusInfo{
		BlockNumber: &v.Slot,
		Success:     string(v.Err) == "null" || len(v.Err) == 0,
	}
	if !info.Success {
		info.Status = chainadapter.TxFailed
		info.Err = string(v.Err)
		return info, nil
	}
	switch v.ConfirmationStatus {
	case "finalized":
		info.Status = chainadapter.TxFinalized
		info.Confirmations = confFinalized
	case "confirmed":
		info.Status = chainadapter.TxConfirmed
		info.Confirmations = confConfirmed
	default:
		info.Status = chainadapter.TxPending
		info.Confirmations = confProcessed
	}
	return info, nil
}

// WaitForConfirmation polls commitment until the requested depth.
func (a *Adapter) WaitForConfirmation(ctx context.Context, hash string, required int, timeout time.Duration) (*chainadapter.ConfirmationResult, error) {
	deadline := time.Now().Add(timeout)
	best := 0
	for {
		info, err := a.TransactionStatus(ctx, hash)
		if err == nil {
			if info.Confirmations > best {
				best = info.Confirmations
			}
			if info.Status == chainadapter.TxFailed {
				return &chainadapter.ConfirmationResult{Confirmed: false, ActualConfirmations: best}, nil
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
		case <-time.After(400 * time.Millisecond):
		}
	}
}

// Balance returns the SOL balance in whole units.
func (a *Adapter) Balance(ctx context.Context, address, asset string) (string, error) {
	client, err := a.rpcClient()
	if err != nil {
		return "", err
	}
	if asset != "" && !strings.EqualFold(asset, "SOL") {
		return "", chainadapter.NewNonRetryableError(chainadapter.ErrCodeUnsupportedAsset,
			fmt.Sprintf("asset %q not supported on solana", asset), nil)
	}
	check := a.ValidateAddress(address)
	if !check.Valid {
		return "", chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, check.Reason, nil)
	}

	raw, err := client.Call(ctx, "getBalance", []interface{}{check.Normalized})
	if err != nil {
		return "", chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, err.Error(), nil, err)
	}
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, "malformed balance", nil, err)
	}
	sol := fmt.Sprintf("%d.%09d", result.Value/1_000_000_000, result.Value%1_000_000_000)
	sol = strings.TrimRight(sol, "0")
	return strings.TrimRight(sol, "."), nil
}

// EstimateFee quotes the flat per-signature lamport fee.
func (a *Adapter) EstimateFee(ctx context.Context, tx *chainadapter.TxRequest) (*chainadapter.FeeEstimate, error) {
	return &chainadapter.FeeEstimate{
		Gas:      1,
		GasPrice: "0.000005",
		Total:    "0.000005",
		Speed:    chainadapter.FeeSpeedNormal,
	}, nil
}

// ValidateAddress checks base58 ed25519 public-key form.
func (a *Adapter) ValidateAddress(address string) *chainadapter.AddressCheck {
	pk, err := solanapkg.PublicKeyFromBase58(address)
	if err != nil {
		return &chainadapter.AddressCheck{Valid: false, Format: "base58", Reason: err.Error()}
	}
	return &chainadapter.AddressCheck{Valid: true, Format: "base58", Normalized: pk.String()}
}

// SubscribeEvents polls the slot height and emits newBlock events.
func (a *Adapter) SubscribeEvents(ctx context.Context, filter chainadapter.EventFilter) (<-chan chainadapter.Event, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	events := make(chan chainadapter.Event, 16)
	go func() {
		defer close(events)
		var last uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(400 * time.Millisecond):
			}
			raw, err := client.Call(ctx, "getSlot", []interface{}{})
			if err != nil {
				continue
			}
			var slot uint64
			if json.Unmarshal(raw, &slot) != nil || slot == last {
				continue
			}
			last = slot
			select {
			case events <- chainadapter.Event{
				ChainID:     "solana",
				Type:        "newBlock",
				BlockNumber: slot,
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
	case strings.Contains(msg, "blockhash not found"):
		return chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, err.Error(), nil, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"):
		return chainadapter.NewRetryableError(chainadapter.ErrCodeRPCTimeout, err.Error(), nil, err)
	default:
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidTransaction, err.Error(), err)
	}
}
