package models

import (
	"time"
)

// Validator is a member of the process-wide validator set. PublicKey is
// the compressed secp256k1 public key, lowercase hex.
type Validator struct {
	ID        string    `json:"id"`
	PublicKey string    `json:"publicKey"`
	Active    bool      `json:"active"`
	AddedAt   time.Time `json:"addedAt"`
}

// SignatureCollection tracks an m-of-n signature round for one transfer.
// The signature set grows monotonically; CompletedAt is stamped exactly
// once when the threshold is first reached.
type SignatureCollection struct {
	ID          string            `json:"id"`
	TransferID  string            `json:"transferId"`
	Required    int               `json:"required"`
	Signatures  map[string][]byte `json:"signatures"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// Complete reports whether the threshold has been reached.
func (c *SignatureCollection) Complete() bool {
	return len(c.Signatures) >= c.Required
}

// Clone returns a deep copy safe to hand to callers.
func (c *SignatureCollection) Clone() *SignatureCollection {
	cp := *c
	cp.Signatures = make(map[string][]byte, len(c.Signatures))
	for id, sig := range c.Signatures {
		cp.Signatures[id] = append([]byte(nil), sig...)
	}
	if c.CompletedAt != nil {
		at := *c.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
