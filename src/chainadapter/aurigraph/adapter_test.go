package aurigraph

import (
	"context"
	"testing"
	"time"

	"github.com/aurigraph/chainadapter"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccount() string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	return base58.Encode(raw)
}

func TestValidateAccount(t *testing.T) {
	check := ValidateAccount(testAccount())
	assert.True(t, check.Valid)
	assert.Equal(t, "base58", check.Format)

	assert.False(t, ValidateAccount("0OIl").Valid)
	assert.False(t, ValidateAccount(base58.Encode([]byte("short"))).Valid)
	assert.False(t, ValidateAccount("").Valid)
}

func TestNativeChainInfo(t *testing.T) {
	info := NewAdapter().Info()
	assert.Equal(t, "aurigraph", info.ChainID)
	assert.Equal(t, "AUR", info.NativeCurrency)
	assert.Equal(t, 1, info.ConfirmationBlocks, "instant finality")
}

func TestSendOnNativeChain(t *testing.T) {
	a := NewAdapter()
	receipt, err := a.SendTransaction(context.Background(), &chainadapter.TxRequest{
		From:   testAccount(),
		To:     testAccount(),
		Amount: "5",
	}, nil)
	require.NoError(t, err)

	result, err := a.WaitForConfirmation(context.Background(), receipt.Hash, 1, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Confirmed)
}

func TestSendRejectsBadAccount(t *testing.T) {
	a := NewAdapter()
	_, err := a.SendTransaction(context.Background(), &chainadapter.TxRequest{
		From: testAccount(),
		To:   "not-an-account-0OIl",
	}, nil)
	require.Error(t, err)
}
