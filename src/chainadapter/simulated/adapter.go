// Package simulated implements the full ChainAdapter contract over an
// in-memory chain. It backs local runs and tests: confirmations accrue
// with wall-clock time scaled by the configured block time, and failures
// can be injected into SendTransaction.
package simulated

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/aurigraph/chainadapter"
)

// simTx is one submitted transaction on the in-memory chain.
type simTx struct {
	hash        string
	submittedAt time.Time
	height      uint64
	failed      bool
}

// Adapter is a deterministic in-memory ChainAdapter.
type Adapter struct {
	info chainadapter.ChainInfo

	mu          sync.Mutex
	cfg         chainadapter.Config
	initialized bool
	txs         map[string]*simTx
	nonce       uint64
	genesis     time.Time
	sendDelay   time.Duration
	pendingErrs []error

	validate func(string) *chainadapter.AddressCheck
	now      func() time.Time
}

// Option customizes a simulated adapter.
type Option func(*Adapter)

// WithAddressValidator overrides the default non-empty address check.
func WithAddressValidator(fn func(string) *chainadapter.AddressCheck) Option {
	return func(a *Adapter) { a.validate = fn }
}

// WithClock overrides the time source. Tests use this to force expiry.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithSendDelay makes SendTransaction sleep, modelling the configured
// processing window.
func WithSendDelay(d time.Duration) Option {
	return func(a *Adapter) { a.sendDelay = d }
}

// NewAdapter creates a simulated adapter advertising the given chain
// info. A zero ConfirmationBlocks defaults to 1; a zero BlockTimeMs
// defaults to 10ms so confirmation waits stay short in tests.
func NewAdapter(info chainadapter.ChainInfo, opts ...Option) *Adapter {
	if info.ConfirmationBlocks <= 0 {
		info.ConfirmationBlocks = 1
	}
	if info.BlockTimeMs <= 0 {
		info.BlockTimeMs = 10
	}
	a := &Adapter{
		info: info,
		txs:  make(map[string]*simTx),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.genesis = a.now()
	if a.validate == nil {
		a.validate = func(addr string) *chainadapter.AddressCheck {
			if addr == "" {
				return &chainadapter.AddressCheck{Valid: false, Format: "opaque", Reason: "empty address"}
			}
			return &chainadapter.AddressCheck{Valid: true, Format: "opaque", Normalized: addr}
		}
	}
	return a
}

// FailNext injects an error returned by the next SendTransaction call.
// Queued errors are consumed in order.
func (a *Adapter) FailNext(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingErrs = append(a.pendingErrs, err)
}

// ChainID returns the simulated chain id.
func (a *Adapter) ChainID() string {
	return a.info.ChainID
}

// Info returns the advertised chain descriptor.
func (a *Adapter) Info() *chainadapter.ChainInfo {
	cp := a.info
	return &cp
}

// Initialize records the configuration. Idempotent.
func (a *Adapter) Initialize(ctx context.Context, cfg chainadapter.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return nil
	}
	a.cfg = cfg
	if cfg.ConfirmationBlocks > 0 {
		a.info.ConfirmationBlocks = cfg.ConfirmationBlocks
	}
	a.initialized = true
	return nil
}

// height is the current simulated block height.
func (a *Adapter) height() uint64 {
	elapsed := a.now().Sub(a.genesis)
	return uint64(elapsed.Milliseconds()/a.info.BlockTimeMs) + 1
}

// CheckConnection always reports a healthy, synced node.
func (a *Adapter) CheckConnection(ctx context.Context) (*chainadapter.ConnectionStatus, error) {
	h := a.height()
	return &chainadapter.ConnectionStatus{
		Connected:     true,
		LatencyMs:     1,
		NodeVersion:   "simulated/1.0",
		Synced:        true,
		SyncedHeight:  h,
		NetworkHeight: h,
	}, nil
}

// SendTransaction mints a deterministic hash for the request and records
// the transaction at the current height.
func (a *Adapter) SendTransaction(ctx context.Context, tx *chainadapter.TxRequest, opts *chainadapter.SendOptions) (*chainadapter.TxReceipt, error) {
	if a.sendDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCTimeout, "send cancelled", nil, ctx.Err())
		case <-time.After(a.sendDelay):
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pendingErrs) > 0 {
		err := a.pendingErrs[0]
		a.pendingErrs = a.pendingErrs[1:]
		return nil, err
	}
	if check := a.validate(tx.To); !check.Valid {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, check.Reason, nil)
	}

	a.nonce++
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d", a.info.ChainID, tx.From, tx.To, tx.Amount, a.nonce)))
	hash := "0x" + hex.EncodeToString(digest[:])
	height := a.height()
	a.txs[hash] = &simTx{hash: hash, submittedAt: a.now(), height: height}

	return &chainadapter.TxReceipt{
		Hash:        hash,
		Status:      chainadapter.TxPending,
		BlockNumber: &height,
		Fee:         "0.0001",
	}, nil
}

// TransactionStatus derives confirmations from elapsed simulated blocks.
func (a *Adapter) TransactionStatus(ctx context.Context, hash string) (*chainadapter.TxStatusInfo, error) {
	a.mu.Lock()
	tx, ok := a.txs[hash]
	a.mu.Unlock()
	if !ok {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeTxNotFound,
			fmt.Sprintf("unknown transaction %s", hash), nil)
	}
	if tx.failed {
		return &chainadapter.TxStatusInfo{Status: chainadapter.TxFailed, Err: "simulated failure"}, nil
	}

	confirmations := int(a.height()-tx.height) + 1
	info := &chainadapter.TxStatusInfo{
		Confirmations: confirmations,
		BlockNumber:   &tx.height,
		Success:       true,
	}
	if confirmations >= a.info.ConfirmationBlocks {
		info.Status = chainadapter.TxFinalized
	} else {
		info.Status = chainadapter.TxConfirmed
	}
	return info, nil
}

// WaitForConfirmation polls simulated confirmations against the timeout.
func (a *Adapter) WaitForConfirmation(ctx context.Context, hash string, required int, timeout time.Duration) (*chainadapter.ConfirmationResult, error) {
	deadline := a.now().Add(timeout)
	best := 0
	for {
		info, err := a.TransactionStatus(ctx, hash)
		if err != nil {
			return nil, err
		}
		if info.Confirmations > best {
			best = info.Confirmations
		}
		if best >= required {
			return &chainadapter.ConfirmationResult{Confirmed: true, ActualConfirmations: best}, nil
		}
		if a.now().After(deadline) {
			return &chainadapter.ConfirmationResult{Confirmed: false, ActualConfirmations: best, TimedOut: true}, nil
		}
		select {
		case <-ctx.Done():
			return &chainadapter.ConfirmationResult{Confirmed: false, ActualConfirmations: best, TimedOut: true}, nil
		case <-time.After(time.Duration(a.info.BlockTimeMs) * time.Millisecond / 2):
		}
	}
}

// Balance reports a fixed funded balance for any valid address.
func (a *Adapter) Balance(ctx context.Context, address, asset string) (string, error) {
	if check := a.validate(address); !check.Valid {
		return "", chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, check.Reason, nil)
	}
	return "1000000", nil
}

// EstimateFee quotes a flat simulated fee.
func (a *Adapter) EstimateFee(ctx context.Context, tx *chainadapter.TxRequest) (*chainadapter.FeeEstimate, error) {
	return &chainadapter.FeeEstimate{
		Gas:      21000,
		GasPrice: "0.000000001",
		Total:    "0.000021",
		Speed:    chainadapter.FeeSpeedNormal,
	}, nil
}

// ValidateAddress applies the configured validator.
func (a *Adapter) ValidateAddress(address string) *chainadapter.AddressCheck {
	return a.validate(address)
}

// SubscribeEvents emits one newBlock event per simulated block.
func (a *Adapter) SubscribeEvents(ctx context.Context, filter chainadapter.EventFilter) (<-chan chainadapter.Event, error) {
	events := make(chan chainadapter.Event, 16)
	go func() {
		defer close(events)
		var last uint64
		tick := time.Duration(a.info.BlockTimeMs) * time.Millisecond
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(tick):
			}
			h := a.height()
			if h == last {
				continue
			}
			last = h
			select {
			case events <- chainadapter.Event{
				ChainID:     a.info.ChainID,
				Type:        "newBlock",
				BlockNumber: h,
				ObservedAt:  a.now().UTC(),
			}:
			default:
			}
		}
	}()
	return events, nil
}

// Shutdown clears the in-memory state.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = false
	a.txs = make(map[string]*simTx)
	return nil
}
