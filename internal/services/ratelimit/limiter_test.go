package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Second)
	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow("addr1")
		assert.True(t, ok, "request %d should pass", i)
	}
	ok, reset := rl.Allow("addr1")
	assert.False(t, ok)
	assert.Greater(t, reset, 0.0)
	assert.LessOrEqual(t, reset, 1.0)
}

func TestWindowSlides(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(2, time.Second)
	rl.SetClock(func() time.Time { return now })

	ok, _ := rl.Allow("a")
	require.True(t, ok)
	ok, _ = rl.Allow("a")
	require.True(t, ok)
	ok, _ = rl.Allow("a")
	require.False(t, ok)

	// Advance past the window: the old requests expire.
	now = now.Add(1100 * time.Millisecond)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
}

func TestAddressesAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, time.Second)
	ok, _ := rl.Allow("a")
	require.True(t, ok)
	ok, _ = rl.Allow("b")
	assert.True(t, ok, "another address has its own window")
}

func TestRemainingAndReset(t *testing.T) {
	rl := NewRateLimiter(5, time.Second)
	assert.Equal(t, 5, rl.Remaining("x"))
	rl.Allow("x")
	rl.Allow("x")
	assert.Equal(t, 3, rl.Remaining("x"))

	rl.Reset("x")
	assert.Equal(t, 5, rl.Remaining("x"))
}
