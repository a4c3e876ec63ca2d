package multisig

import (
	"fmt"
	"strings"

	"github.com/aurigraph/bridge/internal/models"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignablePayload builds the canonical byte sequence every validator
// signs for a transfer:
//
//	transfer_id|source_chain|target_chain|source_addr|target_addr|token|amount|nonce
//
// The amount is the plain decimal string and the nonce is decimal.
// Counterparty contracts hash the identical sequence, so the format is
// frozen.
func SignablePayload(t *models.Transfer) []byte {
	parts := []string{
		t.ID,
		t.SourceChain,
		t.TargetChain,
		t.SourceAddress,
		t.TargetAddress,
		t.TokenSymbol,
		t.Amount.Plain(),
		fmt.Sprintf("%d", t.Nonce),
	}
	return []byte(strings.Join(parts, "|"))
}

// PayloadDigest is the Keccak-256 digest validators actually sign.
func PayloadDigest(payload []byte) []byte {
	return crypto.Keccak256(payload)
}
