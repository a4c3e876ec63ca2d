package solana

import (
	"context"
	"testing"

	"github.com/aurigraph/chainadapter"
	"github.com/aurigraph/chainadapter/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAddress(t *testing.T) {
	a := NewAdapter()

	check := a.ValidateAddress("11111111111111111111111111111111")
	assert.True(t, check.Valid)
	assert.Equal(t, "base58", check.Format)

	assert.False(t, a.ValidateAddress("0OIl").Valid, "ambiguous base58 characters rejected")
	assert.False(t, a.ValidateAddress("").Valid)
	assert.False(t, a.ValidateAddress("abc").Valid, "too short for a 32-byte key")
}

func TestCommitmentMapping(t *testing.T) {
	mock := rpc.NewMockClient()
	mock.SetResponse("getSignatureStatuses", map[string]interface{}{
		"value": []map[string]interface{}{{
			"slot":               12345,
			"confirmationStatus": "finalized",
			"err":                nil,
		}},
	})

	a := NewAdapterWithClient(mock)
	info, err := a.TransactionStatus(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, chainadapter.TxFinalized, info.Status)
	assert.Equal(t, 32, info.Confirmations)
	assert.True(t, info.Success)
}

func TestUnknownSignatureIsPending(t *testing.T) {
	mock := rpc.NewMockClient()
	mock.SetResponse("getSignatureStatuses", map[string]interface{}{
		"value": []interface{}{nil},
	})

	a := NewAdapterWithClient(mock)
	info, err := a.TransactionStatus(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, chainadapter.TxPending, info.Status)
}

func TestBalanceLamportsToSol(t *testing.T) {
	mock := rpc.NewMockClient()
	mock.SetResponse("getBalance", map[string]interface{}{"value": 1500000000})

	a := NewAdapterWithClient(mock)
	balance, err := a.Balance(context.Background(), "11111111111111111111111111111111", "SOL")
	require.NoError(t, err)
	assert.Equal(t, "1.5", balance)
}
