package policy

import (
	"strings"

	"github.com/aurigraph/bridge/internal/bridgeerr"
	"github.com/aurigraph/bridge/internal/models"
)

// TokenSpec describes one supported token's decimals and amount bounds.
type TokenSpec struct {
	Symbol         string
	SourceDecimals int
	TargetDecimals int
	MinAmount      models.Amount
	MaxAmount      models.Amount
}

// supportedTokens is the bridge's token table. Unknown tokens are
// rejected at admission.
var supportedTokens = map[string]TokenSpec{
	"ETH":  {Symbol: "ETH", SourceDecimals: 18, TargetDecimals: 18, MinAmount: models.MustAmount("0.01"), MaxAmount: models.MustAmount("100")},
	"USDT": {Symbol: "USDT", SourceDecimals: 6, TargetDecimals: 6, MinAmount: models.MustAmount("100"), MaxAmount: models.MustAmount("1000000")},
	"USDC": {Symbol: "USDC", SourceDecimals: 6, TargetDecimals: 6, MinAmount: models.MustAmount("100"), MaxAmount: models.MustAmount("1000000")},
	"WBTC": {Symbol: "WBTC", SourceDecimals: 8, TargetDecimals: 8, MinAmount: models.MustAmount("0.001"), MaxAmount: models.MustAmount("10")},
	"AUR":  {Symbol: "AUR", SourceDecimals: 18, TargetDecimals: 18, MinAmount: models.MustAmount("1"), MaxAmount: models.MustAmount("10000000")},
}

// Token returns the spec for a symbol, or false if unsupported.
func Token(symbol string) (TokenSpec, bool) {
	spec, ok := supportedTokens[strings.ToUpper(symbol)]
	return spec, ok
}

// CheckToken verifies the symbol is supported and the amount sits
// inside the token's bounds.
func CheckToken(symbol string, amount models.Amount) error {
	spec, ok := Token(symbol)
	if !ok {
		return bridgeerr.E(bridgeerr.KindInvalidRequest, "token %q is not supported", symbol)
	}
	if amount.Cmp(spec.MinAmount) < 0 {
		return bridgeerr.E(bridgeerr.KindInvalidRequest,
			"amount %s below minimum %s for %s", amount.Plain(), spec.MinAmount.Plain(), spec.Symbol)
	}
	if amount.Cmp(spec.MaxAmount) > 0 {
		return bridgeerr.E(bridgeerr.KindInvalidRequest,
			"amount %s above maximum %s for %s", amount.Plain(), spec.MaxAmount.Plain(), spec.Symbol)
	}
	return nil
}
