// Package substrate implements ChainAdapter for Polkadot. GRANDPA
// finality means two blocks on top of inclusion are treated as final.
package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aurigraph/chainadapter"
	"github.com/aurigraph/chainadapter/rpc"
	"github.com/mr-tron/base58"
	"github.com/vedhavyas/go-subkey"
	"golang.org/x/crypto/blake2b"
)

// polkadotNetworkID is the SS58 network byte for Polkadot mainnet.
const polkadotNetworkID = 0

// ss58Prefix is the checksum domain separator defined by the SS58 spec.
var ss58Prefix = []byte("SS58PRE")

// Adapter implements chainadapter.ChainAdapter for Polkadot.
type Adapter struct {
	mu          sync.Mutex
	client      rpc.Client
	cfg         chainadapter.Config
	initialized bool

	// inclusion height per submitted extrinsic hash
	submitted map[string]uint64
}

// NewAdapter creates an uninitialized Polkadot adapter.
func NewAdapter() *Adapter {
	return &Adapter{submitted: make(map[string]uint64)}
}

// NewAdapterWithClient binds an existing RPC client. Used by tests.
func NewAdapterWithClient(client rpc.Client) *Adapter {
	return &Adapter{submitted: make(map[string]uint64), client: client, initialized: true}
}

// ChainID returns "polkadot".
func (a *Adapter) ChainID() string {
	return "polkadot"
}

// Info returns Polkadot's static descriptor.
func (a *Adapter) Info() *chainadapter.ChainInfo {
	confirmations := 2
	if a.cfg.ConfirmationBlocks > 0 {
		confirmations = a.cfg.ConfirmationBlocks
	}
	return &chainadapter.ChainInfo{
		ChainID:             "polkadot",
		Name:                "Polkadot",
		NativeCurrency:      "DOT",
		Decimals:            10,
		BlockTimeMs:         6000,
		Consensus:           "npos-grandpa",
		ConfirmationBlocks:  confirmations,
		SupportsDynamicFees: false,
		Extra:               map[string]string{"finality": "grandpa"},
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
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeNotInitialized, "polkadot adapter not initialized", nil)
	}
	return a.client, nil
}

// CheckConnection probes system_health and system_version.
func (a *Adapter) CheckConnection(ctx context.Context) (*chainadapter.ConnectionStatus, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	healthRaw, err := client.Call(ctx, "system_health", []interface{}{})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &chainadapter.ConnectionStatus{Connected: false, Err: err.Error()}, nil
	}
	var health struct {
		IsSyncing bool `json:"isSyncing"`
	}
	_ = json.Unmarshal(healthRaw, &health)

	status := &chainadapter.ConnectionStatus{
		Connected: true,
		LatencyMs: latency,
		Synced:    !health.IsSyncing,
	}
	if verRaw, err := client.Call(ctx, "system_version", []interface{}{}); err == nil {
		var version string
		if json.Unmarshal(verRaw, &version) == nil {
			status.NodeVersion = version
		}
	}
	if height, err := a.headNumber(ctx, client); err == nil {
		status.SyncedHeight = height
		status.NetworkHeight = height
	}
	return status, nil
}

// SendTransaction submits a pre-signed extrinsic carried in
// Extra["extrinsic"].
func (a *Adapter) SendTransaction(ctx context.Context, tx *chainadapter.TxRequest, opts *chainadapter.SendOptions) (*chainadapter.TxReceipt, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	if check := a.ValidateAddress(tx.To); !check.Valid {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, check.Reason, nil)
	}
	extrinsic := ""
	if tx.Extra != nil {
		extrinsic = tx.Extra["extrinsic"]
	}
	if extrinsic == "" {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidTransaction,
			"missing pre-signed extrinsic payload", nil)
	}

	raw, err := client.Call(ctx, "author_submitExtrinsic", []interface{}{extrinsic})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, err.Error(), nil, err)
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, "malformed extrinsic hash", nil, err)
	}

	height, _ := a.headNumber(ctx, client)
	a.mu.Lock()
	a.submitted[hash] = height
	a.mu.Unlock()

	return &chainadapter.TxReceipt{Hash: hash, Status: chainadapter.TxPending, Fee: "0"}, nil
}

// TransactionStatus derives confirmations from head progression since
// submission. Extrinsic-level success queries need an indexer, which is
// out of the adapter's scope.
func (a *Adapter) TransactionStatus(ctx context.Context, hash string) (*chainadapter.TxStatusInfo, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	submittedAt, known := a.submitted[hash]
	a.mu.Unlock()
	if !known {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeTxNotFound,
			fmt.Sprintf("unknown extrinsic %s", hash), nil)
	}

	head, err := a.headNumber(ctx, client)
	if err != nil {
		return nil, err
	}
	confirmations := 0
	if head > submittedAt {
		confirmations = int(head - submittedAt)
	}
	info := &chainadapter.TxStatusInfo{
		Confirmations: confirmations,
		Success:       true,
	}
	switch {
	case confirmations == 0:
		info.Status = chainadapter.TxPending
	case confirmations >= a.Info().ConfirmationBlocks:
		info.Status = chainadapter.TxFinalized
	default:
		info.Status = chainadapter.TxConfirmed
	}
	return info, nil
}

// WaitForConfirmation polls until GRANDPA depth or the timeout.
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
		case <-time.After(3 * time.Second):
		}
	}
}

// Balance queries would need the SCALE-encoded system.account storage
// key; without a SCALE codec in scope the adapter reports the asset
// unsupported rather than a wrong number.
func (a *Adapter) Balance(ctx context.Context, address, asset string) (string, error) {
	if check := a.ValidateAddress(address); !check.Valid {
		return "", chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, check.Reason, nil)
	}
	return "", chainadapter.NewNonRetryableError(chainadapter.ErrCodeUnsupportedAsset,
		"balance queries require a SCALE storage codec", nil)
}

// EstimateFee quotes a flat base fee; weight-based estimation needs the
// runtime metadata.
func (a *Adapter) EstimateFee(ctx context.Context, tx *chainadapter.TxRequest) (*chainadapter.FeeEstimate, error) {
	return &chainadapter.FeeEstimate{
		Gas:      1,
		GasPrice: "0.0156",
		Total:    "0.0156",
		Speed:    chainadapter.FeeSpeedNormal,
	}, nil
}

// ValidateAddress verifies the SS58 form: base58 payload of
// network byte + 32-byte public key + 2-byte blake2b checksum over
// "SS58PRE" || data. Normalized re-encodes via subkey.
func (a *Adapter) ValidateAddress(address string) *chainadapter.AddressCheck {
	decoded, err := base58.Decode(address)
	if err != nil {
		return &chainadapter.AddressCheck{Valid: false, Format: "ss58", Reason: "not base58"}
	}
	if len(decoded) != 35 {
		return &chainadapter.AddressCheck{Valid: false, Format: "ss58", Reason: "wrong payload length"}
	}
	if decoded[0] != polkadotNetworkID {
		return &chainadapter.AddressCheck{Valid: false, Format: "ss58",
			Reason: fmt.Sprintf("network id %d is not polkadot", decoded[0])}
	}

	body := decoded[:33]
	checksum := decoded[33:]
	hash := blake2b.Sum512(append(append([]byte{}, ss58Prefix...), body...))
	if hash[0] != checksum[0] || hash[1] != checksum[1] {
		return &chainadapter.AddressCheck{Valid: false, Format: "ss58", Reason: "checksum mismatch"}
	}

	normalized := subkey.SS58Encode(decoded[1:33], polkadotNetworkID)
	return &chainadapter.AddressCheck{Valid: true, Format: "ss58", Normalized: normalized}
}

// SubscribeEvents polls the chain head and emits newBlock events.
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
			case <-time.After(6 * time.Second):
			}
			height, err := a.headNumber(ctx, client)
			if err != nil || height == last {
				continue
			}
			last = height
			select {
			case events <- chainadapter.Event{
				ChainID:     "polkadot",
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

func (a *Adapter) headNumber(ctx context.Context, client rpc.Client) (uint64, error) {
	raw, err := client.Call(ctx, "chain_getHeader", []interface{}{})
	if err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, err.Error(), nil, err)
	}
	var header struct {
		Number string `json:"number"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, "malformed header", nil, err)
	}
	var height uint64
	if _, err := fmt.Sscanf(strings.TrimPrefix(header.Number, "0x"), "%x", &height); err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeTemporaryFailure, "unparseable head number", nil, err)
	}
	return height, nil
}
