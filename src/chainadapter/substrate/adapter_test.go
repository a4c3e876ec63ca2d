package substrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAddress(t *testing.T) {
	a := NewAdapter()

	// Web3 Foundation treasury address, Polkadot network id 0.
	check := a.ValidateAddress("15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5")
	assert.True(t, check.Valid, check.Reason)
	assert.Equal(t, "ss58", check.Format)
	assert.Equal(t, "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5", check.Normalized)
}

func TestValidateAddressRejections(t *testing.T) {
	a := NewAdapter()

	assert.False(t, a.ValidateAddress("").Valid)
	assert.False(t, a.ValidateAddress("not-base58-0OIl").Valid)
	// Kusama addresses carry network id 2, not Polkadot's 0.
	assert.False(t, a.ValidateAddress("HNZata7iMYWmk5RvZRTiAsSDhV8366zq2YGb3tLH5Upf74F").Valid)
	// Valid base58 but wrong payload length.
	assert.False(t, a.ValidateAddress("abcd").Valid)
}

func TestInfoAdvertisesGrandpaFinality(t *testing.T) {
	info := NewAdapter().Info()
	assert.Equal(t, "polkadot", info.ChainID)
	assert.Equal(t, 2, info.ConfirmationBlocks)
	assert.Equal(t, 10, info.Decimals)
	assert.Equal(t, "grandpa", info.Extra["finality"])
}
