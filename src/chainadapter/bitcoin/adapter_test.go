package bitcoin

import (
	"context"
	"testing"

	"github.com/aurigraph/chainadapter"
	"github.com/aurigraph/chainadapter/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAddressFormats(t *testing.T) {
	a := NewAdapter()

	tests := []struct {
		name    string
		address string
		valid   bool
		format  string
	}{
		{name: "p2pkh", address: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", valid: true, format: "p2pkh"},
		{name: "p2sh", address: "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", valid: true, format: "p2sh"},
		{name: "bech32", address: "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", valid: true, format: "bech32"},
		{name: "garbage", address: "notanaddress", valid: false},
		{name: "empty", address: "", valid: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := a.ValidateAddress(tt.address)
			assert.Equal(t, tt.valid, check.Valid)
			if tt.valid {
				assert.Equal(t, tt.format, check.Format)
				assert.NotEmpty(t, check.Normalized)
			}
		})
	}
}

func TestInfoAdvertisesSixConfirmations(t *testing.T) {
	info := NewAdapter().Info()
	assert.Equal(t, "bitcoin", info.ChainID)
	assert.Equal(t, 6, info.ConfirmationBlocks)
	assert.Equal(t, 8, info.Decimals)
}

func TestTransactionStatusConfirmations(t *testing.T) {
	mock := rpc.NewMockClient()
	mock.SetResponse("getrawtransaction", map[string]interface{}{"confirmations": 7})

	a := NewAdapterWithClient(mock)
	info, err := a.TransactionStatus(context.Background(), "txid")
	require.NoError(t, err)
	assert.Equal(t, 7, info.Confirmations)
	assert.Equal(t, chainadapter.TxFinalized, info.Status)
}

func TestSendRequiresRawTx(t *testing.T) {
	a := NewAdapterWithClient(rpc.NewMockClient())
	_, err := a.SendTransaction(context.Background(), &chainadapter.TxRequest{
		From: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		To:   "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
	}, nil)
	require.Error(t, err)
}
