package atomicswap

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/aurigraph/bridge/internal/bridgeerr"
	"github.com/aurigraph/bridge/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CalculateProofHash computes the canonical fraud-proof digest:
// SHA-256 over swap_id || source_chain || target_chain || amount_plain
// || hashlock || evidence, lowercase hex. The evidence payload is
// embedded verbatim so two stores can never disagree on the digest
// input.
func CalculateProofHash(swap *models.AtomicSwap, evidence string) string {
	h := sha256.New()
	h.Write([]byte(swap.ID))
	h.Write([]byte(swap.SourceChain))
	h.Write([]byte(swap.TargetChain))
	h.Write([]byte(swap.Amount.Plain()))
	h.Write([]byte(swap.Hashlock))
	h.Write([]byte(evidence))
	return hex.EncodeToString(h.Sum(nil))
}

// buildProofLocked creates and stores a proof. Caller holds e.mu.
// An existing proof for the swap is returned unchanged: proofs are
// immutable once generated.
func (e *Engine) buildProofLocked(swap *models.AtomicSwap, reason, evidence string) *models.FraudProof {
	if existing, ok := e.proofs[swap.ID]; ok {
		return existing
	}
	proof := &models.FraudProof{
		ID:          uuid.New().String(),
		SwapID:      swap.ID,
		ProofHash:   CalculateProofHash(swap, evidence),
		Reason:      reason,
		Evidence:    evidence,
		GeneratedAt: e.now().UTC(),
	}
	e.proofs[swap.ID] = proof
	return proof
}

// GenerateFraudProof creates (or returns the already generated) fraud
// proof for a swap.
func (e *Engine) GenerateFraudProof(swapID, reason, evidence string) (*models.FraudProof, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	swap, ok := e.swaps[swapID]
	if !ok {
		return nil, bridgeerr.E(bridgeerr.KindNotFound, "swap %q not found", swapID)
	}
	proof := e.buildProofLocked(swap, reason, evidence)
	e.logger.Info("fraud proof generated",
		zap.String("swapId", swapID),
		zap.String("proofId", proof.ID))
	cp := *proof
	return &cp, nil
}

// FraudProof returns the stored proof for a swap, if any.
func (e *Engine) FraudProof(swapID string) (*models.FraudProof, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	proof, ok := e.proofs[swapID]
	if !ok {
		return nil, false
	}
	cp := *proof
	return &cp, true
}

// VerifyFraudProof recomputes the canonical digest over the swap and
// the proof's embedded evidence and compares it with the proof hash.
func (e *Engine) VerifyFraudProof(swapID string, proof *models.FraudProof) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	swap, ok := e.swaps[swapID]
	if !ok {
		return false, bridgeerr.E(bridgeerr.KindNotFound, "swap %q not found", swapID)
	}
	return CalculateProofHash(swap, proof.Evidence) == proof.ProofHash, nil
}
