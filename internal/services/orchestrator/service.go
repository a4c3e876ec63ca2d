// Package orchestrator owns the per-transfer state machine: admission,
// source-chain lock, threshold signature collection, target-chain
// execution, confirmation, and refund/retry paths.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aurigraph/bridge/internal/bridgeerr"
	"github.com/aurigraph/bridge/internal/metrics"
	"github.com/aurigraph/bridge/internal/models"
	"github.com/aurigraph/bridge/internal/repository"
	"github.com/aurigraph/bridge/internal/services/audit"
	"github.com/aurigraph/bridge/internal/services/msgqueue"
	"github.com/aurigraph/bridge/internal/services/multisig"
	"github.com/aurigraph/bridge/internal/services/policy"
	"github.com/aurigraph/bridge/internal/services/ratelimit"
	"github.com/aurigraph/chainadapter"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SignatureProvider produces one validator's signature over the
// canonical payload. The daemon backs this with the local keystore;
// deployments with remote validators implement it over their transport.
type SignatureProvider interface {
	Sign(ctx context.Context, validatorID string, payload []byte) ([]byte, error)
}

// Config tunes the orchestrator.
type Config struct {
	// Timeout is the overall per-transfer deadline. Past it the
	// transfer is force-refunded. Default 5 minutes.
	Timeout time.Duration

	// MaxRetries bounds FAILED -> PENDING retries. Default 3.
	MaxRetries int

	// MultiSigEnabled gates the threshold signature round.
	MultiSigEnabled bool

	// BackoffInitial and BackoffMax bound the exponential retry backoff
	// (base 2, jittered). Defaults 1s and 30s.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// ConfirmationOverrides replaces the adapter-advertised confirmation
	// depth per chain id.
	ConfirmationOverrides map[string]int

	// EscrowAddresses is the bridge custody account per chain. When a
	// chain has none configured the lock is recorded against the
	// holder's own account with a custody memo.
	EscrowAddresses map[string]string
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
}

// BridgeRequest is a user submission.
type BridgeRequest struct {
	SourceChain   string
	TargetChain   string
	SourceAddress string
	TargetAddress string
	TokenSymbol   string
	TokenContract string
	Amount        models.Amount
	Type          models.TransferType
}

// Orchestrator drives transfers through the state machine. Each
// transfer's status is only mutated under the lock keyed by its id.
type Orchestrator struct {
	logger   *zap.Logger
	cfg      Config
	registry *chainadapter.Registry
	multisig *multisig.Engine
	signer   SignatureProvider
	queue    *msgqueue.Queue
	limiter  *ratelimit.RateLimiter
	auditLog *audit.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// transfers are persisted through the repository contract; the
	// in-memory implementation is the default.
	repo repository.Repository

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	nonce atomic.Uint64
	wg    sync.WaitGroup
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithAuditLog attaches the audit trail.
func WithAuditLog(l *audit.Logger) Option {
	return func(o *Orchestrator) { o.auditLog = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRepository replaces the default in-memory transfer store.
func WithRepository(repo repository.Repository) Option {
	return func(o *Orchestrator) { o.repo = repo }
}

// New creates an orchestrator. The rate limiter enforces the
// 100-requests-per-second admission window per source address.
func New(logger *zap.Logger, cfg Config, registry *chainadapter.Registry,
	ms *multisig.Engine, signer SignatureProvider, queue *msgqueue.Queue, opts ...Option) *Orchestrator {

	cfg.applyDefaults()
	o := &Orchestrator{
		logger:    logger.Named("orchestrator"),
		cfg:       cfg,
		registry:  registry,
		multisig:  ms,
		signer:    signer,
		queue:     queue,
		limiter: ratelimit.NewRateLimiter(100, time.Second),
		now:     time.Now,
		repo:    repository.NewMemory(),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// lockFor returns the per-transfer critical section.
func (o *Orchestrator) lockFor(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	return l
}

func (o *Orchestrator) get(id string) (*models.Transfer, bool) {
	entity, ok := o.repo.FindByID(id)
	if !ok {
		return nil, false
	}
	t, ok := entity.(*models.Transfer)
	return t, ok
}

// InitiateBridge validates the request, persists the transfer in
// PENDING, and schedules asynchronous processing. It returns the
// transfer id immediately.
func (o *Orchestrator) InitiateBridge(req BridgeRequest) (string, error) {
	if err := o.validate(&req); err != nil {
		o.auditEntry("TRANSFER_INITIATE", "", &req, "FAILURE", err.Error())
		return "", err
	}

	now := o.now().UTC()
	transfer := &models.Transfer{
		ID:            uuid.New().String(),
		SourceChain:   req.SourceChain,
		TargetChain:   req.TargetChain,
		SourceAddress: req.SourceAddress,
		TargetAddress: req.TargetAddress,
		TokenSymbol:   req.TokenSymbol,
		TokenContract: req.TokenContract,
		Amount:        req.Amount,
		BridgeFee:     policy.BridgeFee(req.Amount),
		Status:        models.TransferPending,
		Type:          req.Type,
		CreatedAt:     now,
		UpdatedAt:     now,
		Nonce:         o.nonce.Add(1),
	}
	if transfer.Type == "" {
		transfer.Type = models.TransferLockAndMint
	}

	if err := o.repo.Save(transfer.ID, transfer); err != nil {
		return "", bridgeerr.Wrap(bridgeerr.KindInternal, err, "persist transfer")
	}

	o.logger.Info("transfer accepted",
		zap.String("transferId", transfer.ID),
		zap.String("sourceChain", transfer.SourceChain),
		zap.String("targetChain", transfer.TargetChain),
		zap.String("amount", transfer.Amount.Plain()),
		zap.String("bridgeFee", transfer.BridgeFee.Plain()))
	o.auditEntry("TRANSFER_INITIATE", transfer.ID, &req, "SUCCESS", "")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.processTransfer(transfer.ID)
	}()
	return transfer.ID, nil
}

// validate applies the admission policy: invariants, rate limit, chain
// support, per-chain caps, token table, and address formats.
func (o *Orchestrator) validate(req *BridgeRequest) error {
	if !req.Amount.IsPositive() {
		return bridgeerr.E(bridgeerr.KindInvalidRequest, "amount must be positive")
	}
	if req.SourceChain == req.TargetChain {
		return bridgeerr.E(bridgeerr.KindInvalidRequest, "Source and target chains cannot be the same")
	}
	if req.SourceAddress == "" || req.TargetAddress == "" {
		return bridgeerr.E(bridgeerr.KindInvalidRequest, "source and target addresses are required")
	}

	if ok, reset := o.limiter.Allow(req.SourceAddress); !ok {
		o.metrics.ObserveRateLimited()
		return bridgeerr.E(bridgeerr.KindRateLimited,
			"rate limit exceeded for %s, retry in %.2fs", req.SourceAddress, reset)
	}

	source, ok := o.registry.Get(req.SourceChain)
	if !ok {
		return bridgeerr.E(bridgeerr.KindUnsupportedChain, "chain %q is not supported", req.SourceChain)
	}
	target, ok := o.registry.Get(req.TargetChain)
	if !ok {
		return bridgeerr.E(bridgeerr.KindUnsupportedChain, "chain %q is not supported", req.TargetChain)
	}

	if err := policy.CheckLimits(req.SourceChain, req.TargetChain, req.Amount); err != nil {
		return err
	}
	if err := policy.CheckToken(req.TokenSymbol, req.Amount); err != nil {
		return err
	}

	if check := source.ValidateAddress(req.SourceAddress); !check.Valid {
		return bridgeerr.E(bridgeerr.KindInvalidRequest,
			"invalid %s address %q: %s", req.SourceChain, req.SourceAddress, check.Reason)
	} else if check.Normalized != "" {
		req.SourceAddress = check.Normalized
	}
	if check := target.ValidateAddress(req.TargetAddress); !check.Valid {
		return bridgeerr.E(bridgeerr.KindInvalidRequest,
			"invalid %s address %q: %s", req.TargetChain, req.TargetAddress, check.Reason)
	} else if check.Normalized != "" {
		req.TargetAddress = check.Normalized
	}

	if policy.SlippageWarning(req.Amount) {
		o.logger.Warn("high slippage estimate",
			zap.Float64("slippagePercent", policy.SlippagePercent(req.Amount)),
			zap.String("amount", req.Amount.Plain()))
	}
	return nil
}

// GetTransfer returns a deep copy of one transfer.
func (o *Orchestrator) GetTransfer(id string) (*models.Transfer, error) {
	t, ok := o.get(id)
	if !ok {
		return nil, bridgeerr.E(bridgeerr.KindNotFound, "transfer %q not found", id)
	}
	l := o.lockFor(id)
	l.Lock()
	defer l.Unlock()
	return t.Clone(), nil
}

// ListTransfersForAddress returns transfers where the address is source
// or target, newest first.
func (o *Orchestrator) ListTransfersForAddress(address string) []*models.Transfer {
	matches := o.repo.FindBy(func(entity interface{}) bool {
		t, ok := entity.(*models.Transfer)
		return ok && t.InvolvesAddress(address)
	})

	out := make([]*models.Transfer, 0, len(matches))
	for _, entity := range matches {
		if t, err := o.GetTransfer(entity.(*models.Transfer).ID); err == nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// EstimateFee quotes the bridge fee, the target-chain gas fee, and the
// total for a prospective transfer.
func (o *Orchestrator) EstimateFee(ctx context.Context, sourceChain, targetChain string, amount models.Amount, token string) (*models.FeeQuote, error) {
	if !amount.IsPositive() {
		return nil, bridgeerr.E(bridgeerr.KindInvalidRequest, "amount must be positive")
	}
	if _, ok := policy.ChainLimit(sourceChain); !ok {
		return nil, bridgeerr.E(bridgeerr.KindUnsupportedChain, "chain %q is not supported", sourceChain)
	}
	target, ok := o.registry.Get(targetChain)
	if !ok {
		return nil, bridgeerr.E(bridgeerr.KindUnsupportedChain, "chain %q is not supported", targetChain)
	}

	quote := &models.FeeQuote{BridgeFee: policy.BridgeFee(amount)}
	estimate, err := target.EstimateFee(ctx, &chainadapter.TxRequest{Asset: token, Amount: amount.Plain()})
	if err == nil && estimate != nil {
		if gas, perr := models.ParseAmount(estimate.Total); perr == nil {
			quote.GasFee = gas
		}
	}
	quote.TotalFee = quote.BridgeFee.Add(quote.GasFee)
	return quote, nil
}

// RefundTransfer refunds a transfer that can no longer complete: any
// non-completed transfer past its deadline, or a FAILED transfer whose
// retries are exhausted.
func (o *Orchestrator) RefundTransfer(id, reason string) (*models.RefundReceipt, error) {
	t, ok := o.get(id)
	if !ok {
		return nil, bridgeerr.E(bridgeerr.KindNotFound, "transfer %q not found", id)
	}

	l := o.lockFor(id)
	l.Lock()
	defer l.Unlock()

	now := o.now()
	switch {
	case t.Status == models.TransferCompleted:
		return nil, bridgeerr.E(bridgeerr.KindPreconditionFailed, "transfer %q already completed", id)
	case t.Status == models.TransferRefunded:
		return nil, bridgeerr.E(bridgeerr.KindPreconditionFailed, "transfer %q already refunded", id)
	}
	expired := now.After(t.CreatedAt.Add(o.cfg.Timeout))
	// A transfer resting in FAILED is not mid-retry: retries re-enter
	// PENDING under this same lock. FAILED therefore means the retry
	// budget is spent or the failure was terminal, and refund is open.
	exhausted := t.Status == models.TransferFailed
	if !expired && !exhausted {
		return nil, bridgeerr.E(bridgeerr.KindPreconditionFailed,
			"transfer %q not refundable before its deadline", id)
	}

	if err := o.transitionLocked(t, models.TransferRefunded, reason); err != nil {
		return nil, err
	}
	o.notifyRefund(t, reason)
	o.auditEntry("TRANSFER_REFUND", t.ID, nil, "SUCCESS", reason)

	return &models.RefundReceipt{
		TransferID: t.ID,
		Reason:     reason,
		Amount:     t.Amount,
		RefundedAt: now.UTC(),
	}, nil
}

// Statistics computes the counter snapshot from the transfer table, so
// the numbers are always mutually consistent.
func (o *Orchestrator) Statistics() *models.BridgeStatistics {
	var transfers []*models.Transfer
	for _, entity := range o.repo.FindBy(nil) {
		if t, ok := entity.(*models.Transfer); ok {
			transfers = append(transfers, t)
		}
	}

	stats := &models.BridgeStatistics{}
	var completionSeconds float64
	for _, t := range transfers {
		l := o.lockFor(t.ID)
		l.Lock()
		stats.Total++
		switch t.Status {
		case models.TransferCompleted:
			stats.Successful++
			stats.Volume = stats.Volume.Add(t.Amount)
			if t.CompletedAt != nil {
				completionSeconds += t.CompletedAt.Sub(t.CreatedAt).Seconds()
			}
		case models.TransferFailed:
			stats.Failed++
		case models.TransferRefunded:
			stats.Refunded++
		default:
			stats.Pending++
		}
		l.Unlock()
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	if stats.Successful > 0 {
		stats.AvgCompletionSeconds = completionSeconds / float64(stats.Successful)
	}
	return stats
}

// Wait blocks until all in-flight transfer workers finish. Used by
// shutdown and tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) auditEntry(op, entityID string, req *BridgeRequest, status, reason string) {
	if o.auditLog == nil {
		return
	}
	entry := audit.Entry{
		ID:            uuid.New().String(),
		EntityID:      entityID,
		Operation:     op,
		Status:        status,
		FailureReason: reason,
	}
	if req != nil {
		entry.SourceChain = req.SourceChain
		entry.TargetChain = req.TargetChain
		entry.Amount = req.Amount.Plain()
	}
	if err := o.auditLog.Log(entry); err != nil {
		o.logger.Warn("audit write failed", zap.Error(err))
	}
}
