// Package validatorkeys provisions validator signing identities from a
// BIP-39 mnemonic. The daemon derives its local validator set here;
// remote validators only ever share their public keys.
package validatorkeys

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/aurigraph/bridge/internal/bridgeerr"
	"github.com/aurigraph/bridge/internal/models"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// derivation path m/44'/60'/0'/0/index, one leaf per validator.
var derivationPrefix = []uint32{
	44 + hdkeychain.HardenedKeyStart,
	60 + hdkeychain.HardenedKeyStart,
	0 + hdkeychain.HardenedKeyStart,
	0,
}

// Service derives and holds validator private keys in memory.
//
// Thread Safety: all methods are safe for concurrent use.
type Service struct {
	master *hdkeychain.ExtendedKey

	mu   sync.RWMutex
	keys map[string]*keyEntry
}

type keyEntry struct {
	validator *models.Validator
	priv      []byte // 32-byte secp256k1 scalar
}

// GenerateMnemonic creates a fresh 24-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("entropy generation failed: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// NewFromMnemonic builds the keystore from a BIP-39 mnemonic.
func NewFromMnemonic(mnemonic, passphrase string) (*Service, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, bridgeerr.E(bridgeerr.KindInvalidRequest, "invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindInternal, err, "master key derivation failed")
	}
	return &Service{master: master, keys: make(map[string]*keyEntry)}, nil
}

// DeriveValidator derives the validator identity at the given index and
// caches its signing key. Derivation is deterministic: the same
// mnemonic and index always yield the same validator.
func (s *Service) DeriveValidator(index uint32) (*models.Validator, error) {
	id := fmt.Sprintf("validator-%d", index)

	s.mu.RLock()
	if entry, ok := s.keys[id]; ok {
		s.mu.RUnlock()
		cp := *entry.validator
		return &cp, nil
	}
	s.mu.RUnlock()

	key := s.master
	var err error
	for _, step := range append(append([]uint32{}, derivationPrefix...), index) {
		key, err = key.Derive(step)
		if err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.KindInternal, err, "derive step failed")
		}
	}
	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindInternal, err, "private key export failed")
	}

	ecdsaKey := privKey.ToECDSA()
	validator := &models.Validator{
		ID:        id,
		PublicKey: hex.EncodeToString(crypto.CompressPubkey(&ecdsaKey.PublicKey)),
		Active:    true,
		AddedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.keys[id] = &keyEntry{validator: validator, priv: privKey.Serialize()}
	s.mu.Unlock()

	cp := *validator
	return &cp, nil
}

// Validators returns all derived validators.
func (s *Service) Validators() []*models.Validator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Validator, 0, len(s.keys))
	for _, entry := range s.keys {
		cp := *entry.validator
		out = append(out, &cp)
	}
	return out
}

// Sign signs the Keccak-256 digest of the payload with the validator's
// key, producing the 65-byte [R||S||V] form the multisig engine
// verifies. Implements the orchestrator's signature provider.
func (s *Service) Sign(ctx context.Context, validatorID string, payload []byte) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.keys[validatorID]
	s.mu.RUnlock()
	if !ok {
		return nil, bridgeerr.E(bridgeerr.KindInvalidValidator, "no key for validator %q", validatorID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	priv, err := crypto.ToECDSA(entry.priv)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindInternal, err, "key decode failed")
	}
	digest := crypto.Keccak256(payload)
	return crypto.Sign(digest, priv)
}
