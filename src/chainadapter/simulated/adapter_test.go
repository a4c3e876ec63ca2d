package simulated

import (
	"context"
	"testing"
	"time"

	"github.com/aurigraph/chainadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter() *Adapter {
	return NewAdapter(chainadapter.ChainInfo{
		ChainID:            "testchain",
		ConfirmationBlocks: 2,
		BlockTimeMs:        5,
	})
}

func TestSendAndConfirm(t *testing.T) {
	a := newTestAdapter()
	ctx := context.Background()

	receipt, err := a.SendTransaction(ctx, &chainadapter.TxRequest{
		From: "alice", To: "bob", Amount: "10",
	}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.Hash)
	assert.Equal(t, chainadapter.TxPending, receipt.Status)

	result, err := a.WaitForConfirmation(ctx, receipt.Hash, 2, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Confirmed)
	assert.GreaterOrEqual(t, result.ActualConfirmations, 2)

	info, err := a.TransactionStatus(ctx, receipt.Hash)
	require.NoError(t, err)
	assert.True(t, info.Success)
}

func TestDeterministicDistinctHashes(t *testing.T) {
	a := newTestAdapter()
	ctx := context.Background()
	first, err := a.SendTransaction(ctx, &chainadapter.TxRequest{From: "a", To: "b", Amount: "1"}, nil)
	require.NoError(t, err)
	second, err := a.SendTransaction(ctx, &chainadapter.TxRequest{From: "a", To: "b", Amount: "1"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestFailureInjection(t *testing.T) {
	a := newTestAdapter()
	injected := chainadapter.NewRetryableError(chainadapter.ErrCodeRPCTimeout, "injected", nil, nil)
	a.FailNext(injected)

	_, err := a.SendTransaction(context.Background(), &chainadapter.TxRequest{From: "a", To: "b"}, nil)
	require.Error(t, err)
	assert.True(t, chainadapter.IsRetryable(err))

	// The queue is consumed; the next send succeeds.
	_, err = a.SendTransaction(context.Background(), &chainadapter.TxRequest{From: "a", To: "b"}, nil)
	require.NoError(t, err)
}

func TestUnknownTransaction(t *testing.T) {
	a := newTestAdapter()
	_, err := a.TransactionStatus(context.Background(), "0xmissing")
	require.Error(t, err)
	assert.False(t, chainadapter.IsRetryable(err))
}

func TestWaitTimesOut(t *testing.T) {
	a := NewAdapter(chainadapter.ChainInfo{
		ChainID:            "slow",
		ConfirmationBlocks: 1000,
		BlockTimeMs:        50,
	})
	receipt, err := a.SendTransaction(context.Background(), &chainadapter.TxRequest{From: "a", To: "b"}, nil)
	require.NoError(t, err)

	result, err := a.WaitForConfirmation(context.Background(), receipt.Hash, 1000, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, result.Confirmed)
	assert.True(t, result.TimedOut)
}

func TestRejectsEmptyDestination(t *testing.T) {
	a := newTestAdapter()
	_, err := a.SendTransaction(context.Background(), &chainadapter.TxRequest{From: "a", To: ""}, nil)
	require.Error(t, err)
}

func TestInitializeIdempotent(t *testing.T) {
	a := newTestAdapter()
	cfg := chainadapter.Config{ConfirmationBlocks: 5}
	require.NoError(t, a.Initialize(context.Background(), cfg))
	require.NoError(t, a.Initialize(context.Background(), chainadapter.Config{ConfirmationBlocks: 9}))
	assert.Equal(t, 5, a.Info().ConfirmationBlocks, "second initialize is a no-op")
}
