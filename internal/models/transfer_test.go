package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The transfer graph: terminal states absorb, every other edge matches
// the machine in the orchestrator's contract.
func TestTransferTransitions(t *testing.T) {
	all := []TransferStatus{
		TransferPending, TransferConfirming, TransferCompleted,
		TransferFailed, TransferRefunded,
	}

	allowed := map[TransferStatus][]TransferStatus{
		TransferPending:    {TransferConfirming, TransferFailed, TransferRefunded},
		TransferConfirming: {TransferCompleted, TransferFailed, TransferRefunded},
		TransferFailed:     {TransferPending, TransferRefunded},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatusesAbsorb(t *testing.T) {
	for _, terminal := range []TransferStatus{TransferCompleted, TransferRefunded} {
		assert.True(t, terminal.Terminal())
		for _, to := range []TransferStatus{TransferPending, TransferConfirming, TransferCompleted, TransferFailed, TransferRefunded} {
			assert.False(t, terminal.CanTransition(to), "%s must not leave terminal", terminal)
		}
	}
	assert.False(t, TransferFailed.Terminal())
}

func TestSwapTransitions(t *testing.T) {
	assert.True(t, SwapInitiated.CanTransition(SwapSourceLocked))
	assert.True(t, SwapSourceLocked.CanTransition(SwapBothLocked))
	assert.True(t, SwapBothLocked.CanTransition(SwapCompleted))
	assert.True(t, SwapBothLocked.CanTransition(SwapFraudDetected))
	assert.True(t, SwapExpired.CanTransition(SwapRefunded))

	assert.False(t, SwapInitiated.CanTransition(SwapBothLocked))
	assert.False(t, SwapCompleted.CanTransition(SwapRefunded))
	assert.False(t, SwapFraudDetected.CanTransition(SwapCompleted))

	for _, s := range []SwapStatus{SwapCompleted, SwapRefunded, SwapFraudDetected} {
		assert.True(t, s.Terminal())
	}
}

func TestInvolvesAddress(t *testing.T) {
	tr := &Transfer{SourceAddress: "alice", TargetAddress: "bob"}
	assert.True(t, tr.InvolvesAddress("alice"))
	assert.True(t, tr.InvolvesAddress("bob"))
	assert.False(t, tr.InvolvesAddress("carol"))
}
