package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aurigraph/bridge/internal/bridgeerr"
	"github.com/aurigraph/bridge/internal/models"
	"github.com/aurigraph/bridge/internal/services/msgqueue"
	"github.com/aurigraph/bridge/internal/services/multisig"
	"github.com/aurigraph/chainadapter"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// processTransfer is the per-transfer worker: it runs the
// lock -> sign -> execute -> confirm pipeline, retrying transient
// failures with backoff until success, terminal failure, or expiry.
func (o *Orchestrator) processTransfer(id string) {
	logger := o.logger.With(zap.String("transferId", id))

	for {
		err := o.runPipeline(id)
		if err == nil {
			return
		}
		if o.expireIfPastDeadline(id) {
			logger.Warn("transfer deadline exceeded, refunded", zap.Error(err))
			return
		}

		t, ok := o.get(id)
		if !ok {
			return
		}
		l := o.lockFor(id)
		l.Lock()
		if t.Status.Terminal() {
			l.Unlock()
			return
		}
		if t.Status != models.TransferFailed {
			_ = o.transitionLocked(t, models.TransferFailed, err.Error())
		}
		retryable := bridgeerr.Retryable(err)
		canRetry := retryable && t.Retries < o.cfg.MaxRetries
		if canRetry {
			t.Retries++
			_ = o.transitionLocked(t, models.TransferPending, fmt.Sprintf("retry %d", t.Retries))
		}
		attempt := t.Retries
		l.Unlock()

		if !canRetry {
			logger.Error("transfer failed terminally",
				zap.Error(err),
				zap.Bool("retryable", retryable),
				zap.Int("retries", attempt))
			o.metrics.ObserveTransfer(string(models.TransferFailed), 0)
			o.auditEntry("TRANSFER_PROCESS", id, nil, "FAILURE", err.Error())
			return
		}

		delay := backoffDelay(o.cfg.BackoffInitial, o.cfg.BackoffMax, attempt)
		logger.Warn("transfer attempt failed, backing off",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay))
		time.Sleep(delay)
	}
}

// expireIfPastDeadline force-refunds a transfer whose overall deadline
// has passed. Reports whether it did.
func (o *Orchestrator) expireIfPastDeadline(id string) bool {
	t, ok := o.get(id)
	if !ok {
		return false
	}
	l := o.lockFor(id)
	l.Lock()
	defer l.Unlock()
	if t.Status.Terminal() {
		return t.Status == models.TransferRefunded
	}
	if !o.now().After(t.CreatedAt.Add(o.cfg.Timeout)) {
		return false
	}
	_ = o.transitionLocked(t, models.TransferRefunded, "deadline exceeded")
	o.notifyRefund(t, "deadline exceeded")
	o.metrics.ObserveTransfer(string(models.TransferRefunded), 0)
	return true
}

// runPipeline executes one attempt of the transfer pipeline. Steps
// already completed in earlier attempts (recorded tx hashes) are
// skipped, so a retry never double-locks funds.
func (o *Orchestrator) runPipeline(id string) error {
	t, ok := o.get(id)
	if !ok {
		return bridgeerr.E(bridgeerr.KindNotFound, "transfer %q not found", id)
	}

	deadline := t.CreatedAt.Add(o.cfg.Timeout)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	source, ok := o.registry.Get(t.SourceChain)
	if !ok {
		return bridgeerr.E(bridgeerr.KindUnsupportedChain, "chain %q is not supported", t.SourceChain)
	}
	target, ok := o.registry.Get(t.TargetChain)
	if !ok {
		return bridgeerr.E(bridgeerr.KindUnsupportedChain, "chain %q is not supported", t.TargetChain)
	}

	// Step 1: lock funds on the source chain.
	if err := o.lockSource(ctx, t, source); err != nil {
		return err
	}

	// Step 2: PENDING -> CONFIRMING.
	l := o.lockFor(id)
	l.Lock()
	if t.Status == models.TransferPending {
		if err := o.transitionLocked(t, models.TransferConfirming, "source lock recorded"); err != nil {
			l.Unlock()
			return err
		}
	}
	l.Unlock()

	// Step 3: collect threshold signatures.
	if o.cfg.MultiSigEnabled {
		if err := o.collectSignatures(ctx, t); err != nil {
			return err
		}
	}

	// Step 4: execute on the target chain.
	if err := o.executeTarget(ctx, t, target); err != nil {
		return err
	}

	// Step 5: wait for the advertised confirmation depth.
	if err := o.awaitConfirmations(ctx, t, target, deadline); err != nil {
		return err
	}

	// Step 6: CONFIRMING -> COMPLETED.
	l.Lock()
	defer l.Unlock()
	if err := o.transitionLocked(t, models.TransferCompleted, "confirmed on target chain"); err != nil {
		return err
	}
	duration := float64(0)
	if t.CompletedAt != nil {
		duration = t.CompletedAt.Sub(t.CreatedAt).Seconds()
	}
	o.metrics.ObserveTransfer(string(models.TransferCompleted), duration)
	o.auditEntry("TRANSFER_COMPLETE", t.ID, nil, "SUCCESS", "")
	o.logger.Info("transfer completed",
		zap.String("transferId", t.ID),
		zap.String("sourceTx", t.SourceTxHash),
		zap.String("targetTx", t.TargetTxHash),
		zap.Float64("durationSeconds", duration))
	return nil
}

// lockSource submits the custody lock on the source chain and records
// the tx hash. Skipped when a previous attempt already locked.
func (o *Orchestrator) lockSource(ctx context.Context, t *models.Transfer, source chainadapter.ChainAdapter) error {
	l := o.lockFor(t.ID)
	l.Lock()
	alreadyLocked := t.SourceTxHash != ""
	l.Unlock()
	if alreadyLocked {
		return nil
	}

	receipt, err := source.SendTransaction(ctx, &chainadapter.TxRequest{
		From:   t.SourceAddress,
		To:     o.escrowFor(t.SourceChain, t.SourceAddress),
		Asset:  t.TokenSymbol,
		Amount: t.Amount.Add(t.BridgeFee).Plain(),
		Memo:   "bridge-lock:" + t.ID,
	}, nil)
	if err != nil {
		return o.classifyAdapterError(err, "source lock failed")
	}

	l.Lock()
	t.SourceTxHash = receipt.Hash
	t.UpdatedAt = o.now().UTC()
	l.Unlock()

	o.postMessage(t, t.SourceChain, models.MessageLockIntent, receipt.Hash)
	return nil
}

// collectSignatures opens a signature collection and solicits all
// active validators in parallel. Individual invalid signatures are not
// fatal; failing to reach the threshold is.
func (o *Orchestrator) collectSignatures(ctx context.Context, t *models.Transfer) error {
	payload := multisig.SignablePayload(t)
	validationID := uuid.New().String()
	if _, err := o.multisig.Open(validationID, t.ID, 0, payload); err != nil {
		return err
	}

	validators := o.multisig.ActiveValidators()
	start := o.now()

	g, gctx := errgroup.WithContext(ctx)
	for _, v := range validators {
		validator := v
		g.Go(func() error {
			sig, err := o.signer.Sign(gctx, validator.ID, payload)
			if err != nil {
				o.logger.Warn("validator signing failed",
					zap.String("transferId", t.ID),
					zap.String("validatorId", validator.ID),
					zap.Error(err))
				return nil // a missing signature is not fatal to the round
			}
			if _, err := o.multisig.AddSignature(validationID, validator.ID, sig); err != nil {
				o.logger.Warn("signature rejected",
					zap.String("transferId", t.ID),
					zap.String("validatorId", validator.ID),
					zap.Error(err))
				return nil
			}
			o.metrics.ObserveSignature()
			return nil
		})
	}
	_ = g.Wait()

	status, err := o.multisig.Status(validationID)
	if err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.SignatureRounds.Observe(o.now().Sub(start).Seconds())
	}
	if !status.Complete {
		return bridgeerr.E(bridgeerr.KindAdapterTransient,
			"signature threshold not reached: %d of %d", status.Count, status.Required)
	}
	o.logger.Info("signature threshold reached",
		zap.String("transferId", t.ID),
		zap.Int("count", status.Count),
		zap.Int("required", status.Required))
	return nil
}

// executeTarget releases or mints on the target chain. Skipped when a
// previous attempt already executed.
func (o *Orchestrator) executeTarget(ctx context.Context, t *models.Transfer, target chainadapter.ChainAdapter) error {
	l := o.lockFor(t.ID)
	l.Lock()
	alreadyExecuted := t.TargetTxHash != ""
	l.Unlock()
	if alreadyExecuted {
		return nil
	}

	receipt, err := target.SendTransaction(ctx, &chainadapter.TxRequest{
		From:   o.escrowFor(t.TargetChain, t.TargetAddress),
		To:     t.TargetAddress,
		Asset:  t.TokenSymbol,
		Amount: t.Amount.Plain(),
		Memo:   "bridge-release:" + t.ID,
	}, nil)
	if err != nil {
		return o.classifyAdapterError(err, "target execute failed")
	}

	l.Lock()
	t.TargetTxHash = receipt.Hash
	t.UpdatedAt = o.now().UTC()
	l.Unlock()

	o.postMessage(t, t.TargetChain, models.MessageExecuteIntent, receipt.Hash)
	return nil
}

// awaitConfirmations blocks until the target chain's required depth.
func (o *Orchestrator) awaitConfirmations(ctx context.Context, t *models.Transfer, target chainadapter.ChainAdapter, deadline time.Time) error {
	required := target.Info().ConfirmationBlocks
	if override, ok := o.cfg.ConfirmationOverrides[t.TargetChain]; ok && override > 0 {
		required = override
	}

	l := o.lockFor(t.ID)
	l.Lock()
	hash := t.TargetTxHash
	l.Unlock()

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return bridgeerr.E(bridgeerr.KindAdapterTransient, "no time left before deadline")
	}
	result, err := target.WaitForConfirmation(ctx, hash, required, remaining)
	if err != nil {
		return o.classifyAdapterError(err, "confirmation wait failed")
	}
	if result.TimedOut {
		return bridgeerr.E(bridgeerr.KindAdapterTransient,
			"confirmation timed out at %d of %d", result.ActualConfirmations, required)
	}
	if !result.Confirmed {
		return bridgeerr.E(bridgeerr.KindAdapterTerminal,
			"target transaction failed with %d confirmations", result.ActualConfirmations)
	}
	return nil
}

// transitionLocked applies one state machine edge. Caller holds the
// per-transfer lock. Terminal states are absorbing; illegal edges are
// rejected with PreconditionFailed.
func (o *Orchestrator) transitionLocked(t *models.Transfer, to models.TransferStatus, reason string) error {
	if t.Status.Terminal() {
		return bridgeerr.E(bridgeerr.KindPreconditionFailed,
			"transfer %q is terminal at %s", t.ID, t.Status)
	}
	if !t.Status.CanTransition(to) {
		return bridgeerr.E(bridgeerr.KindPreconditionFailed,
			"illegal transition %s -> %s for transfer %q", t.Status, to, t.ID)
	}
	now := o.now().UTC()
	t.Status = to
	t.UpdatedAt = now
	switch to {
	case models.TransferCompleted:
		t.CompletedAt = &now
	case models.TransferFailed:
		t.FailureReason = reason
	}
	o.logger.Debug("transfer transition",
		zap.String("transferId", t.ID),
		zap.String("status", string(to)),
		zap.String("reason", reason))
	return nil
}

// classifyAdapterError maps ChainError classifications onto the bridge
// taxonomy.
func (o *Orchestrator) classifyAdapterError(err error, msg string) error {
	var be *bridgeerr.Error
	if errors.As(err, &be) {
		return be
	}
	if chainadapter.IsRetryable(err) {
		return bridgeerr.Wrap(bridgeerr.KindAdapterTransient, err, "%s", msg)
	}
	return bridgeerr.Wrap(bridgeerr.KindAdapterTerminal, err, "%s", msg)
}

// escrowFor returns the custody account for a chain, falling back to
// the counterparty's own account when none is configured.
func (o *Orchestrator) escrowFor(chainID, fallback string) string {
	if addr, ok := o.cfg.EscrowAddresses[chainID]; ok && addr != "" {
		return addr
	}
	return fallback
}

// postMessage records an intent event on the message queue. Queue
// rejections are logged, never fatal to the transfer.
func (o *Orchestrator) postMessage(t *models.Transfer, chainID string, msgType models.MessageType, txHash string) {
	if o.queue == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"transferId": t.ID,
		"txHash":     txHash,
	})
	_, err := o.queue.Send(msgqueue.SendRequest{
		SourceChain: t.SourceChain,
		TargetChain: chainID,
		Sender:      "orchestrator",
		Receiver:    chainID + "-adapter",
		Type:        msgType,
		Payload:     payload,
		Nonce:       o.queue.NextNonce("orchestrator", chainID),
	})
	if err != nil {
		o.logger.Warn("intent message rejected",
			zap.String("transferId", t.ID),
			zap.Error(err))
	}
}

// notifyRefund posts the refund notice for reconciliation.
func (o *Orchestrator) notifyRefund(t *models.Transfer, reason string) {
	if o.queue == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"transferId": t.ID,
		"reason":     reason,
		"sourceTx":   t.SourceTxHash,
		"targetTx":   t.TargetTxHash,
	})
	_, err := o.queue.Send(msgqueue.SendRequest{
		SourceChain: t.TargetChain,
		TargetChain: t.SourceChain,
		Sender:      "orchestrator",
		Receiver:    t.SourceChain + "-adapter",
		Type:        models.MessageRefundNotice,
		Payload:     payload,
		Nonce:       o.queue.NextNonce("orchestrator", t.SourceChain),
	})
	if err != nil {
		o.logger.Warn("refund notice rejected",
			zap.String("transferId", t.ID),
			zap.Error(err))
	}
}
