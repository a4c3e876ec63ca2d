package atomicswap

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/aurigraph/bridge/internal/bridgeerr"
	"github.com/aurigraph/bridge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRequest() InitiateRequest {
	return InitiateRequest{
		SourceChain:   "ethereum",
		TargetChain:   "polkadot",
		SourceAddress: "0xalice",
		TargetAddress: "5Grw...bob",
		Amount:        models.MustAmount("10"),
		TokenSymbol:   "DOT",
	}
}

func TestSwapHappyPath(t *testing.T) {
	e := NewEngine(zap.NewNop())
	res, err := e.InitiateSwap(testRequest())
	require.NoError(t, err)
	require.Len(t, res.Secret, 64)
	assert.Equal(t, ComputeHashlock(res.Secret), res.Hashlock)

	require.NoError(t, e.LockSource(res.SwapID, "0xAAA"))
	swap, err := e.GetSwap(res.SwapID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapSourceLocked, swap.Status)

	require.NoError(t, e.LockTarget(res.SwapID, "0xBBB"))

	done, err := e.CompleteSwap(res.SwapID, res.Secret)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, done.DurationSeconds, 0.0)
	assert.Equal(t, "0xAAA", done.SourceTxHash)
	assert.Equal(t, "0xBBB", done.TargetTxHash)

	swap, err = e.GetSwap(res.SwapID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapCompleted, swap.Status)
	assert.Equal(t, res.Secret, swap.RevealedSecret)
	// Completed swaps satisfy SHA-256(revealed) == hashlock.
	assert.Equal(t, swap.Hashlock, ComputeHashlock(swap.RevealedSecret))
}

func TestLockOrderEnforced(t *testing.T) {
	e := NewEngine(zap.NewNop())
	res, err := e.InitiateSwap(testRequest())
	require.NoError(t, err)

	// Target lock before source lock fails the precondition.
	err = e.LockTarget(res.SwapID, "0xBBB")
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindPreconditionFailed, bridgeerr.KindOf(err))

	require.NoError(t, e.LockSource(res.SwapID, "0xAAA"))
	// Double source lock also fails.
	err = e.LockSource(res.SwapID, "0xAAA2")
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindPreconditionFailed, bridgeerr.KindOf(err))
}

func TestFraudDetection(t *testing.T) {
	e := NewEngine(zap.NewNop())
	res, err := e.InitiateSwap(testRequest())
	require.NoError(t, err)
	require.NoError(t, e.LockSource(res.SwapID, "0xAAA"))
	require.NoError(t, e.LockTarget(res.SwapID, "0xBBB"))

	_, err = e.CompleteSwap(res.SwapID, "deadbeef")
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindInvalidSecret, bridgeerr.KindOf(err))

	swap, err := e.GetSwap(res.SwapID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapFraudDetected, swap.Status)

	proof, ok := e.FraudProof(res.SwapID)
	require.True(t, ok)
	assert.Equal(t, CalculateProofHash(swap, proof.Evidence), proof.ProofHash)

	valid, err := e.VerifyFraudProof(res.SwapID, proof)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestTimeoutRefund(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	e := NewEngine(zap.NewNop(), WithClock(clock), WithTimeout(time.Hour))

	res, err := e.InitiateSwap(testRequest())
	require.NoError(t, err)
	require.NoError(t, e.LockSource(res.SwapID, "0xAAA"))
	require.NoError(t, e.LockTarget(res.SwapID, "0xBBB"))

	// Refund before expiry is rejected.
	_, err = e.RefundSwap(res.SwapID, "cold feet")
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindPreconditionFailed, bridgeerr.KindOf(err))

	now = now.Add(2 * time.Hour)
	receipt, err := e.RefundSwap(res.SwapID, "expired")
	require.NoError(t, err)
	assert.Equal(t, res.SwapID, receipt.TransferID)

	swap, err := e.GetSwap(res.SwapID)
	require.NoError(t, err)
	assert.Equal(t, models.SwapRefunded, swap.Status)

	// Completing after refund fails even with the correct secret.
	_, err = e.CompleteSwap(res.SwapID, res.Secret)
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindPreconditionFailed, bridgeerr.KindOf(err))
}

func TestExpiredLockTransitions(t *testing.T) {
	now := time.Now()
	e := NewEngine(zap.NewNop(), WithClock(func() time.Time { return now }), WithTimeout(time.Minute))
	res, err := e.InitiateSwap(testRequest())
	require.NoError(t, err)

	now = now.Add(time.Hour)
	err = e.LockSource(res.SwapID, "0xAAA")
	require.Error(t, err)

	swap, getErr := e.GetSwap(res.SwapID)
	require.NoError(t, getErr)
	assert.Equal(t, models.SwapExpired, swap.Status)
}

func TestCompletedSwapNeverRefunds(t *testing.T) {
	now := time.Now()
	e := NewEngine(zap.NewNop(), WithClock(func() time.Time { return now }), WithTimeout(time.Hour))
	res, err := e.InitiateSwap(testRequest())
	require.NoError(t, err)
	require.NoError(t, e.LockSource(res.SwapID, "a"))
	require.NoError(t, e.LockTarget(res.SwapID, "b"))
	_, err = e.CompleteSwap(res.SwapID, res.Secret)
	require.NoError(t, err)

	now = now.Add(48 * time.Hour)
	_, err = e.RefundSwap(res.SwapID, "too late")
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindPreconditionFailed, bridgeerr.KindOf(err))
}

// Roundtrip: any 32-byte secret verifies against its own hashlock and
// against nothing else.
func TestHashlockRoundtrip(t *testing.T) {
	for i := 0; i < 32; i++ {
		secretBytes := make([]byte, 32)
		_, err := rand.Read(secretBytes)
		require.NoError(t, err)
		secret := hex.EncodeToString(secretBytes)

		hashlock := ComputeHashlock(secret)
		expected := sha256.Sum256([]byte(secret))
		assert.Equal(t, hex.EncodeToString(expected[:]), hashlock)

		otherBytes := make([]byte, 32)
		_, err = rand.Read(otherBytes)
		require.NoError(t, err)
		other := hex.EncodeToString(otherBytes)
		if other != secret {
			assert.NotEqual(t, hashlock, ComputeHashlock(other))
		}
	}
}

// Fraud-proof determinism: equal inputs yield equal digests.
func TestProofHashDeterministic(t *testing.T) {
	swap := &models.AtomicSwap{
		ID:          "swap-1",
		SourceChain: "ethereum",
		TargetChain: "polkadot",
		Amount:      models.MustAmount("10.5"),
		Hashlock:    "abc123",
	}
	first := CalculateProofHash(swap, "evidence-blob")
	second := CalculateProofHash(swap, "evidence-blob")
	assert.Equal(t, first, second)
	assert.NotEqual(t, first, CalculateProofHash(swap, "different"))
}

func TestInitiateValidation(t *testing.T) {
	e := NewEngine(zap.NewNop())

	req := testRequest()
	req.TargetChain = req.SourceChain
	_, err := e.InitiateSwap(req)
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindInvalidRequest, bridgeerr.KindOf(err))

	req = testRequest()
	req.Amount = models.Amount{}
	_, err = e.InitiateSwap(req)
	require.Error(t, err)

	req = testRequest()
	req.SourceAddress = ""
	_, err = e.InitiateSwap(req)
	require.Error(t, err)
}
