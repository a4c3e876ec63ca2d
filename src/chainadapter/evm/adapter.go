// Package evm implements ChainAdapter for EVM-family chains
// (Ethereum, BSC, Polygon, Avalanche C-Chain). One adapter type is
// parameterized by a network preset; the JSON-RPC surface is identical
// across the family.
package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/aurigraph/chainadapter"
	"github.com/aurigraph/chainadapter/rpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Network is a static preset for one EVM chain.
type Network struct {
	ChainID            string
	Name               string
	NativeCurrency     string
	NetworkID          int64
	BlockTimeMs        int64
	ConfirmationBlocks int
}

// Presets for the chains the bridge routes today.
var (
	Ethereum  = Network{ChainID: "ethereum", Name: "Ethereum", NativeCurrency: "ETH", NetworkID: 1, BlockTimeMs: 12000, ConfirmationBlocks: 12}
	BSC       = Network{ChainID: "bsc", Name: "BNB Smart Chain", NativeCurrency: "BNB", NetworkID: 56, BlockTimeMs: 3000, ConfirmationBlocks: 20}
	Polygon   = Network{ChainID: "polygon", Name: "Polygon PoS", NativeCurrency: "MATIC", NetworkID: 137, BlockTimeMs: 2000, ConfirmationBlocks: 128}
	Avalanche = Network{ChainID: "avalanche", Name: "Avalanche C-Chain", NativeCurrency: "AVAX", NetworkID: 43114, BlockTimeMs: 2000, ConfirmationBlocks: 12}
)

// Adapter implements chainadapter.ChainAdapter for one EVM network.
type Adapter struct {
	network Network

	mu          sync.Mutex
	client      rpc.Client
	cfg         chainadapter.Config
	initialized bool
}

// NewAdapter creates an uninitialized adapter for the given network.
func NewAdapter(network Network) *Adapter {
	return &Adapter{network: network}
}

// NewAdapterWithClient creates an adapter bound to an existing RPC
// client. Used by tests with rpc.MockClient.
func NewAdapterWithClient(network Network, client rpc.Client) *Adapter {
	return &Adapter{network: network, client: client, initialized: true}
}

// ChainID returns the network's chain identifier.
func (a *Adapter) ChainID() string {
	return a.network.ChainID
}

// Info returns the static chain descriptor.
func (a *Adapter) Info() *chainadapter.ChainInfo {
	confirmations := a.network.ConfirmationBlocks
	if a.cfg.ConfirmationBlocks > 0 {
		confirmations = a.cfg.ConfirmationBlocks
	}
	return &chainadapter.ChainInfo{
		ChainID:             a.network.ChainID,
		Name:                a.network.Name,
		NativeCurrency:      a.network.NativeCurrency,
		Decimals:            18,
		BlockTimeMs:         a.network.BlockTimeMs,
		Consensus:           "proof-of-stake",
		ConfirmationBlocks:  confirmations,
		SupportsDynamicFees: true,
		Extra:               map[string]string{"networkId": fmt.Sprintf("%d", a.network.NetworkID)},
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
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeNotInitialized,
			"rpc.url is required", nil)
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
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeNotInitialized,
			fmt.Sprintf("%s adapter not initialized", a.network.ChainID), nil)
	}
	return a.client, nil
}

// CheckConnection probes node reachability and sync state.
func (a *Adapter) CheckConnection(ctx context.Context) (*chainadapter.ConnectionStatus, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	versionRaw, err := client.Call(ctx, "web3_clientVersion", []interface{}{})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &chainadapter.ConnectionStatus{Connected: false, Err: err.Error()}, nil
	}
	var version string
	_ = json.Unmarshal(versionRaw, &version)

	status := &chainadapter.ConnectionStatus{
		Connected:   true,
		LatencyMs:   latency,
		NodeVersion: version,
		Synced:      true,
	}

	if height, err := a.blockNumber(ctx, client); err == nil {
		status.SyncedHeight = height
		status.NetworkHeight = height
	}

	// eth_syncing returns false when synced, an object otherwise.
	if syncRaw, err := client.Call(ctx, "eth_syncing", []interface{}{}); err == nil {
		var syncing bool
		if err := json.Unmarshal(syncRaw, &syncing); err != nil {
			status.Synced = false
			var progress struct {
				CurrentBlock string `json:"currentBlock"`
				HighestBlock string `json:"highestBlock"`
			}
			if json.Unmarshal(syncRaw, &progress) == nil {
				status.SyncedHeight = parseHexUint(progress.CurrentBlock)
				status.NetworkHeight = parseHexUint(progress.HighestBlock)
			}
		}
	}
	return status, nil
}

// SendTransaction submits a pre-signed raw transaction carried in
// Extra["rawTx"]. The bridge core never signs on-chain payloads itself.
func (a *Adapter) SendTransaction(ctx context.Context, tx *chainadapter.TxRequest, opts *chainadapter.SendOptions) (*chainadapter.TxReceipt, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	if check := a.ValidateAddress(tx.To); !check.Valid {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress,
			fmt.Sprintf("invalid %s address %q: %s", a.network.ChainID, tx.To, check.Reason), nil)
	}
	rawTx := ""
	if tx.Extra != nil {
		rawTx = tx.Extra["rawTx"]
	}
	if rawTx == "" {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidTransaction,
			"missing pre-signed rawTx payload", nil)
	}

	resultRaw, err := client.Call(ctx, "eth_sendRawTransaction", []interface{}{rawTx})
	if err != nil {
		return nil, classifySendError(err)
	}
	var hash string
	if err := json.Unmarshal(resultRaw, &hash); err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure,
			"malformed send result", nil, err)
	}
	return &chainadapter.TxReceipt{Hash: hash, Status: chainadapter.TxPending, Fee: "0"}, nil
}

// evmReceipt is the subset of eth_getTransactionReceipt the adapter reads.
type evmReceipt struct {
	BlockNumber string `json:"blockNumber"`
	Status      string `json:"status"`
}

// TransactionStatus reports current status and confirmations.
func (a *Adapter) TransactionStatus(ctx context.Context, hash string) (*chainadapter.TxStatusInfo, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}

	receiptRaw, err := client.Call(ctx, "eth_getTransactionReceipt", []interface{}{hash})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, err.Error(), nil, err)
	}
	if string(receiptRaw) == "null" {
		// Not yet mined, or unknown to this node.
		return &chainadapter.TxStatusInfo{Status: chainadapter.TxPending}, nil
	}
	var receipt evmReceipt
	if err := json.Unmarshal(receiptRaw, &receipt); err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure,
			"malformed receipt", nil, err)
	}

	head, err := a.blockNumber(ctx, client)
	if err != nil {
		return nil, err
	}
	mined := parseHexUint(receipt.BlockNumber)
	confirmations := 0
	if head >= mined {
		confirmations = int(head-mined) + 1
	}

	info := &chainadapter.TxStatusInfo{
		Confirmations: confirmations,
		BlockNumber:   &mined,
		Success:       receipt.Status == "0x1",
	}
	switch {
	case !info.Success:
		info.Status = chainadapter.TxFailed
		info.Err = "transaction reverted"
	case confirmations >= a.Info().ConfirmationBlocks:
		info.Status = chainadapter.TxFinalized
	default:
		info.Status = chainadapter.TxConfirmed
	}
	return info, nil
}

// WaitForConfirmation polls until the required depth or the timeout.
func (a *Adapter) WaitForConfirmation(ctx context.Context, hash string, required int, timeout time.Duration) (*chainadapter.ConfirmationResult, error) {
	deadline := time.Now().Add(timeout)
	poll := time.Duration(a.network.BlockTimeMs/2) * time.Millisecond
	if poll < 250*time.Millisecond {
		poll = 250 * time.Millisecond
	}

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
		case <-time.After(poll):
		}
	}
}

// Balance returns the native balance in whole units. Token balances
// require a contract address the core does not track, so non-native
// assets are rejected.
func (a *Adapter) Balance(ctx context.Context, address, asset string) (string, error) {
	client, err := a.rpcClient()
	if err != nil {
		return "", err
	}
	if asset != "" && !strings.EqualFold(asset, a.network.NativeCurrency) {
		return "", chainadapter.NewNonRetryableError(chainadapter.ErrCodeUnsupportedAsset,
			fmt.Sprintf("asset %q not supported on %s", asset, a.network.ChainID), nil)
	}
	check := a.ValidateAddress(address)
	if !check.Valid {
		return "", chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, check.Reason, nil)
	}

	raw, err := client.Call(ctx, "eth_getBalance", []interface{}{check.Normalized, "latest"})
	if err != nil {
		return "", chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, err.Error(), nil, err)
	}
	var hexBalance string
	if err := json.Unmarshal(raw, &hexBalance); err != nil {
		return "", chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, "malformed balance", nil, err)
	}
	wei, ok := new(big.Int).SetString(strings.TrimPrefix(hexBalance, "0x"), 16)
	if !ok {
		return "", chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure,
			fmt.Sprintf("unparseable balance %q", hexBalance), nil, nil)
	}
	return weiToDecimal(wei, 18), nil
}

// EstimateFee quotes gas for a plain value transfer at the current gas
// price.
func (a *Adapter) EstimateFee(ctx context.Context, tx *chainadapter.TxRequest) (*chainadapter.FeeEstimate, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	raw, err := client.Call(ctx, "eth_gasPrice", []interface{}{})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, err.Error(), nil, err)
	}
	var hexPrice string
	if err := json.Unmarshal(raw, &hexPrice); err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, "malformed gas price", nil, err)
	}
	price, ok := new(big.Int).SetString(strings.TrimPrefix(hexPrice, "0x"), 16)
	if !ok {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure,
			fmt.Sprintf("unparseable gas price %q", hexPrice), nil, nil)
	}

	const gas = uint64(21000)
	total := new(big.Int).Mul(price, new(big.Int).SetUint64(gas))
	return &chainadapter.FeeEstimate{
		Gas:      gas,
		GasPrice: weiToDecimal(price, 18),
		Total:    weiToDecimal(total, 18),
		Speed:    chainadapter.FeeSpeedNormal,
	}, nil
}

// ValidateAddress checks the EIP-55 hex format. Normalized is the
// checksummed form.
func (a *Adapter) ValidateAddress(address string) *chainadapter.AddressCheck {
	if !common.IsHexAddress(address) {
		return &chainadapter.AddressCheck{
			Valid:  false,
			Format: "hex-checksum",
			Reason: "not a 20-byte hex address",
		}
	}
	checksummed := common.HexToAddress(address).Hex()
	// Mixed-case input must match its own checksum; all-lower and
	// all-upper forms are accepted and normalized.
	lower := strings.ToLower(address)
	upper := "0x" + strings.ToUpper(strings.TrimPrefix(address, "0x"))
	if address != lower && address != upper && address != checksummed {
		return &chainadapter.AddressCheck{
			Valid:  false,
			Format: "hex-checksum",
			Reason: "checksum mismatch",
		}
	}
	return &chainadapter.AddressCheck{Valid: true, Format: "hex-checksum", Normalized: checksummed}
}

// SubscribeEvents emits a newBlock event per observed head. Polling
// keeps the adapter usable without a websocket endpoint.
func (a *Adapter) SubscribeEvents(ctx context.Context, filter chainadapter.EventFilter) (<-chan chainadapter.Event, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	events := make(chan chainadapter.Event, 16)
	poll := time.Duration(a.network.BlockTimeMs) * time.Millisecond

	go func() {
		defer close(events)
		var last uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(poll):
			}
			head, err := a.blockNumber(ctx, client)
			if err != nil || head == last {
				continue
			}
			last = head
			select {
			case events <- chainadapter.Event{
				ChainID:     a.network.ChainID,
				Type:        "newBlock",
				BlockNumber: head,
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

func (a *Adapter) blockNumber(ctx context.Context, client rpc.Client) (uint64, error) {
	raw, err := client.Call(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, err.Error(), nil, err)
	}
	var hexHeight string
	if err := json.Unmarshal(raw, &hexHeight); err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, "malformed block number", nil, err)
	}
	return parseHexUint(hexHeight), nil
}

// classifySendError maps node error strings onto the retry taxonomy.
func classifySendError(err error) *chainadapter.ChainError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"):
		return chainadapter.NewRetryableError(chainadapter.ErrCodeNonceTooLow, err.Error(), nil, err)
	case strings.Contains(msg, "insufficient funds"):
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeInsufficientFunds, err.Error(), err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"):
		return chainadapter.NewRetryableError(chainadapter.ErrCodeRPCTimeout, err.Error(), nil, err)
	default:
		return chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, err.Error(), nil, err)
	}
}

func parseHexUint(s string) uint64 {
	v, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0
	}
	return v
}

// weiToDecimal renders an integer base-unit value as a plain decimal in
// whole units, trailing zeros trimmed.
func weiToDecimal(v *big.Int, decimals int) string {
	r := new(big.Rat).SetFrac(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	if r.IsInt() {
		return r.Num().String()
	}
	s := strings.TrimRight(r.FloatString(decimals), "0")
	return strings.TrimRight(s, ".")
}
