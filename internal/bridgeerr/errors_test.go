package bridgeerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := E(KindLimitExceeded, "amount too large")
	assert.Equal(t, KindLimitExceeded, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestWrapPreservesChain(t *testing.T) {
	cause := errors.New("socket closed")
	err := Wrap(KindAdapterTransient, cause, "lock failed")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindAdapterTransient, KindOf(err))
	assert.True(t, Retryable(err))
	assert.Contains(t, err.Error(), "AdapterTransient")
	assert.Contains(t, err.Error(), "lock failed")
}

func TestKindSurvivesFmtWrapping(t *testing.T) {
	inner := E(KindReplayDetected, "nonce 3 <= 5")
	outer := fmt.Errorf("send: %w", inner)
	assert.Equal(t, KindReplayDetected, KindOf(outer))
	assert.True(t, IsKind(outer, KindReplayDetected))
	assert.False(t, IsKind(outer, KindNotFound))
}

func TestRetryableOnlyForTransient(t *testing.T) {
	assert.True(t, Retryable(E(KindAdapterTransient, "timeout")))
	assert.False(t, Retryable(E(KindAdapterTerminal, "bad address")))
	assert.False(t, Retryable(E(KindInvalidRequest, "amount")))
}
