// Package aurigraph implements ChainAdapter for the native Aurigraph
// DLT hub chain. The hub ledger is co-located with the bridge, so the
// adapter runs over the in-memory simulated chain with instant
// finality, while account ids keep their base58 form.
package aurigraph

import (
	"github.com/aurigraph/chainadapter"
	"github.com/aurigraph/chainadapter/simulated"
	"github.com/mr-tron/base58"
)

// accountLen is the raw byte length of an Aurigraph account id.
const accountLen = 32

// NewAdapter creates the native hub-chain adapter.
func NewAdapter(opts ...simulated.Option) *simulated.Adapter {
	info := chainadapter.ChainInfo{
		ChainID:             "aurigraph",
		Name:                "Aurigraph DLT",
		NativeCurrency:      "AUR",
		Decimals:            18,
		BlockTimeMs:         500,
		Consensus:           "bft-dag",
		ConfirmationBlocks:  1,
		SupportsDynamicFees: false,
		Extra:               map[string]string{"finality": "instant"},
	}
	opts = append([]simulated.Option{simulated.WithAddressValidator(ValidateAccount)}, opts...)
	return simulated.NewAdapter(info, opts...)
}

// ValidateAccount checks the base58 account-id form.
func ValidateAccount(address string) *chainadapter.AddressCheck {
	decoded, err := base58.Decode(address)
	if err != nil {
		return &chainadapter.AddressCheck{Valid: false, Format: "base58", Reason: "not base58"}
	}
	if len(decoded) != accountLen {
		return &chainadapter.AddressCheck{Valid: false, Format: "base58", Reason: "account id must be 32 bytes"}
	}
	return &chainadapter.AddressCheck{Valid: true, Format: "base58", Normalized: base58.Encode(decoded)}
}
