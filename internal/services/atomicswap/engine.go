// Package atomicswap implements the hash-time-locked swap engine:
// hashlock generation, secret-reveal verification, timeout refunds, and
// fraud-proof construction.
package atomicswap

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/aurigraph/bridge/internal/bridgeerr"
	"github.com/aurigraph/bridge/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTimeout is the HTLC expiry window when none is configured.
const DefaultTimeout = 24 * time.Hour

// InitiateRequest describes a new swap.
type InitiateRequest struct {
	SourceChain   string
	TargetChain   string
	SourceAddress string
	TargetAddress string
	Amount        models.Amount
	TokenSymbol   string

	// Timeout overrides the engine default when > 0. Tests use tiny
	// windows to drive expiry.
	Timeout time.Duration
}

// InitiateResult is returned to the swap initiator. The secret itself
// stays in the engine's secret table; the initiator receives it exactly
// once here and must convey it out of band.
type InitiateResult struct {
	SwapID    string
	Secret    string
	Hashlock  string
	ExpiresAt time.Time
}

// CompleteResult reports a successful reveal.
type CompleteResult struct {
	DurationSeconds float64
	SourceTxHash    string
	TargetTxHash    string
}

// Engine owns the swap table, the private secret table, and generated
// fraud proofs.
type Engine struct {
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	swaps   map[string]*models.AtomicSwap
	secrets map[string]string
	proofs  map[string]*models.FraudProof
}

// Option customizes the engine.
type Option func(*Engine)

// WithTimeout sets the default expiry window.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithClock overrides the time source. Used by tests to force expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an empty swap engine.
func NewEngine(logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger:  logger.Named("atomicswap"),
		timeout: DefaultTimeout,
		now:     time.Now,
		swaps:   make(map[string]*models.AtomicSwap),
		secrets: make(map[string]string),
		proofs:  make(map[string]*models.FraudProof),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ComputeHashlock hashes the ASCII hex form of a secret: lowercase hex
// of SHA-256(secret_hex_bytes). The encoding is frozen for
// interoperability with counterparty contracts.
func ComputeHashlock(secretHex string) string {
	digest := sha256.Sum256([]byte(secretHex))
	return hex.EncodeToString(digest[:])
}

// InitiateSwap generates the secret, computes the hashlock, and
// persists the swap in INITIATED.
func (e *Engine) InitiateSwap(req InitiateRequest) (*InitiateResult, error) {
	if req.SourceChain == "" || req.TargetChain == "" {
		return nil, bridgeerr.E(bridgeerr.KindInvalidRequest, "source and target chains are required")
	}
	if req.SourceChain == req.TargetChain {
		return nil, bridgeerr.E(bridgeerr.KindInvalidRequest, "source and target chains cannot be the same")
	}
	if req.SourceAddress == "" || req.TargetAddress == "" {
		return nil, bridgeerr.E(bridgeerr.KindInvalidRequest, "source and target addresses are required")
	}
	if !req.Amount.IsPositive() {
		return nil, bridgeerr.E(bridgeerr.KindInvalidRequest, "amount must be positive")
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindInternal, err, "secret generation failed")
	}
	secret := hex.EncodeToString(secretBytes)
	hashlock := ComputeHashlock(secret)

	timeout := e.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	now := e.now().UTC()
	swap := &models.AtomicSwap{
		ID:            uuid.New().String(),
		SourceChain:   req.SourceChain,
		TargetChain:   req.TargetChain,
		SourceAddress: req.SourceAddress,
		TargetAddress: req.TargetAddress,
		Amount:        req.Amount,
		TokenSymbol:   req.TokenSymbol,
		Hashlock:      hashlock,
		Status:        models.SwapInitiated,
		InitiatedAt:   now,
		ExpiresAt:     now.Add(timeout),
	}

	e.mu.Lock()
	e.swaps[swap.ID] = swap
	e.secrets[swap.ID] = secret
	e.mu.Unlock()

	e.logger.Info("swap initiated",
		zap.String("swapId", swap.ID),
		zap.String("sourceChain", swap.SourceChain),
		zap.String("targetChain", swap.TargetChain),
		zap.String("amount", swap.Amount.Plain()),
		zap.Time("expiresAt", swap.ExpiresAt))

	return &InitiateResult{
		SwapID:    swap.ID,
		Secret:    secret,
		Hashlock:  hashlock,
		ExpiresAt: swap.ExpiresAt,
	}, nil
}

// LockSource records the source-chain lock transaction:
// INITIATED -> SOURCE_LOCKED.
func (e *Engine) LockSource(swapID, sourceTxHash string) error {
	return e.lock(swapID, models.SwapInitiated, models.SwapSourceLocked, func(s *models.AtomicSwap) {
		s.SourceTxHash = sourceTxHash
	})
}

// LockTarget records the target-chain lock transaction:
// SOURCE_LOCKED -> BOTH_LOCKED.
func (e *Engine) LockTarget(swapID, targetTxHash string) error {
	return e.lock(swapID, models.SwapSourceLocked, models.SwapBothLocked, func(s *models.AtomicSwap) {
		s.TargetTxHash = targetTxHash
	})
}

// lock performs one expected-state transition under the engine lock, so
// concurrent lock calls resolve by precondition: only the call matching
// the current state succeeds.
func (e *Engine) lock(swapID string, from, to models.SwapStatus, apply func(*models.AtomicSwap)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	swap, ok := e.swaps[swapID]
	if !ok {
		return bridgeerr.E(bridgeerr.KindNotFound, "swap %q not found", swapID)
	}
	if swap.Expired(e.now()) && !swap.Status.Terminal() {
		swap.Status = models.SwapExpired
		return bridgeerr.E(bridgeerr.KindPreconditionFailed, "swap %q expired", swapID)
	}
	if swap.Status != from {
		return bridgeerr.E(bridgeerr.KindPreconditionFailed,
			"swap %q is %s, expected %s", swapID, swap.Status, from)
	}
	apply(swap)
	swap.Status = to
	return nil
}

// CompleteSwap verifies the revealed secret against the stored hashlock.
// On a match the swap completes and the secret becomes public on the
// record; on a mismatch the swap moves to FRAUD_DETECTED and a fraud
// proof is generated.
func (e *Engine) CompleteSwap(swapID, revealedSecret string) (*CompleteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	swap, ok := e.swaps[swapID]
	if !ok {
		return nil, bridgeerr.E(bridgeerr.KindNotFound, "swap %q not found", swapID)
	}
	now := e.now()
	if swap.Expired(now) && !swap.Status.Terminal() {
		swap.Status = models.SwapExpired
		return nil, bridgeerr.E(bridgeerr.KindPreconditionFailed, "swap %q expired", swapID)
	}
	if swap.Status != models.SwapBothLocked {
		return nil, bridgeerr.E(bridgeerr.KindPreconditionFailed,
			"swap %q is %s, expected %s", swapID, swap.Status, models.SwapBothLocked)
	}

	if ComputeHashlock(revealedSecret) != swap.Hashlock {
		swap.Status = models.SwapFraudDetected
		proof := e.buildProofLocked(swap, "secret reveal does not match hashlock", revealedSecret)
		e.logger.Warn("fraud detected on swap",
			zap.String("swapId", swapID),
			zap.String("proofId", proof.ID))
		return nil, bridgeerr.E(bridgeerr.KindInvalidSecret,
			"revealed secret does not match hashlock for swap %q", swapID)
	}

	at := now.UTC()
	swap.Status = models.SwapCompleted
	swap.CompletedAt = &at
	swap.RevealedSecret = revealedSecret

	e.logger.Info("swap completed",
		zap.String("swapId", swapID),
		zap.Float64("durationSeconds", at.Sub(swap.InitiatedAt).Seconds()))

	return &CompleteResult{
		DurationSeconds: at.Sub(swap.InitiatedAt).Seconds(),
		SourceTxHash:    swap.SourceTxHash,
		TargetTxHash:    swap.TargetTxHash,
	}, nil
}

// RefundSwap refunds a swap after its expiry. Completed swaps are never
// refundable.
func (e *Engine) RefundSwap(swapID, reason string) (*models.RefundReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	swap, ok := e.swaps[swapID]
	if !ok {
		return nil, bridgeerr.E(bridgeerr.KindNotFound, "swap %q not found", swapID)
	}
	now := e.now()
	if swap.Status == models.SwapCompleted {
		return nil, bridgeerr.E(bridgeerr.KindPreconditionFailed, "swap %q already completed", swapID)
	}
	if swap.Status == models.SwapRefunded {
		return nil, bridgeerr.E(bridgeerr.KindPreconditionFailed, "swap %q already refunded", swapID)
	}
	if !swap.Expired(now) {
		return nil, bridgeerr.E(bridgeerr.KindPreconditionFailed,
			"swap %q not refundable before expiry %s", swapID, swap.ExpiresAt.Format(time.RFC3339))
	}

	swap.Status = models.SwapRefunded
	delete(e.secrets, swapID)

	e.logger.Info("swap refunded",
		zap.String("swapId", swapID),
		zap.String("reason", reason))

	return &models.RefundReceipt{
		TransferID: swapID,
		Reason:     reason,
		Amount:     swap.Amount,
		RefundedAt: now.UTC(),
	}, nil
}

// GetSwap returns a deep copy of the swap record.
func (e *Engine) GetSwap(swapID string) (*models.AtomicSwap, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	swap, ok := e.swaps[swapID]
	if !ok {
		return nil, bridgeerr.E(bridgeerr.KindNotFound, "swap %q not found", swapID)
	}
	return swap.Clone(), nil
}

// ListSwaps returns all swaps, newest first.
func (e *Engine) ListSwaps() []*models.AtomicSwap {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*models.AtomicSwap, 0, len(e.swaps))
	for _, swap := range e.swaps {
		out = append(out, swap.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitiatedAt.After(out[j].InitiatedAt) })
	return out
}
