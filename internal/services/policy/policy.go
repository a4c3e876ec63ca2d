// Package policy holds the admission rules for bridge transfers: per-
// chain value caps, the supported token table, fee math, and slippage
// estimation.
package policy

import (
	"strings"

	"github.com/aurigraph/bridge/internal/bridgeerr"
	"github.com/aurigraph/bridge/internal/models"
)

// chainMaxLimits caps transfer amounts per chain, in USD-equivalent
// units of the amount.
var chainMaxLimits = map[string]models.Amount{
	"ethereum":  models.MustAmount("404000"),
	"bsc":       models.MustAmount("101000"),
	"polygon":   models.MustAmount("250000"),
	"avalanche": models.MustAmount("300000"),
	"solana":    models.MustAmount("500000"),
	"polkadot":  models.MustAmount("750000"),
	"aurigraph": models.MustAmount("1000000"),
}

// bridgeFeeRate is the bridge's own cut: 0.1% of the transferred amount.
var bridgeFeeRate = models.MustAmount("0.001")

// slippageWarnPercent is the threshold above which a quote gets a
// slippage warning.
const slippageWarnPercent = 2.0

// ChainLimit returns the per-chain cap, or false for unknown chains.
func ChainLimit(chainID string) (models.Amount, bool) {
	limit, ok := chainMaxLimits[strings.ToLower(chainID)]
	return limit, ok
}

// KnownChains returns the chain ids with configured limits.
func KnownChains() []string {
	out := make([]string, 0, len(chainMaxLimits))
	for id := range chainMaxLimits {
		out = append(out, id)
	}
	return out
}

// CheckLimits verifies the amount against both chains' caps.
func CheckLimits(sourceChain, targetChain string, amount models.Amount) error {
	for _, chain := range []string{sourceChain, targetChain} {
		limit, ok := ChainLimit(chain)
		if !ok {
			return bridgeerr.E(bridgeerr.KindUnsupportedChain, "chain %q is not supported", chain)
		}
		if amount.Cmp(limit) > 0 {
			return bridgeerr.E(bridgeerr.KindLimitExceeded,
				"amount %s exceeds %s limit of %s", amount.Plain(), chain, limit.Plain())
		}
	}
	return nil
}

// BridgeFee computes the bridge's 0.1% fee for an amount.
func BridgeFee(amount models.Amount) models.Amount {
	return amount.Mul(bridgeFeeRate)
}

// SlippagePercent estimates price deviation from pool utilization:
// 100 * amount / 1_000_000 percent.
func SlippagePercent(amount models.Amount) float64 {
	return amount.Float64() * 100 / 1_000_000
}

// SlippageWarning reports whether the estimate warrants a warning.
func SlippageWarning(amount models.Amount) bool {
	return SlippagePercent(amount) > slippageWarnPercent
}
