// Package multisig implements the m-of-n validator threshold engine:
// signature collection, cryptographic verification, deduplication, and
// threshold detection.
package multisig

import (
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/aurigraph/bridge/internal/bridgeerr"
	"github.com/aurigraph/bridge/internal/models"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// VerifyFunc checks one validator's signature over a payload.
// The default implementation recovers a secp256k1 public key and
// compares it with the validator's registered key.
type VerifyFunc func(validator *models.Validator, payload, signature []byte) error

// AddResult reports the outcome of one signature addition.
type AddResult struct {
	Count            int
	Required         int
	ThresholdReached bool
}

// CollectionStatus is a snapshot of one signature round.
type CollectionStatus struct {
	Count       int
	Required    int
	Complete    bool
	OpenedAt    time.Time
	CompletedAt *time.Time
}

// Engine owns the validator set and the open signature collections.
//
// Thread Safety:
// - The validator set and the collection table have their own locks
// - Additions to a single collection are serialized by the engine lock,
//   so the threshold crossing is observed by exactly one caller
type Engine struct {
	logger *zap.Logger
	verify VerifyFunc
	now    func() time.Time

	valMu      sync.RWMutex
	validators map[string]*models.Validator

	colMu       sync.Mutex
	collections map[string]*collectionState
}

// collectionState pairs the record with the payload being signed.
type collectionState struct {
	record  *models.SignatureCollection
	payload []byte
}

// Option customizes the engine.
type Option func(*Engine)

// WithVerify overrides the signature verification hook.
func WithVerify(fn VerifyFunc) Option {
	return func(e *Engine) { e.verify = fn }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine with an empty validator set.
func NewEngine(logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger:      logger.Named("multisig"),
		verify:      VerifySecp256k1,
		now:         time.Now,
		validators:  make(map[string]*models.Validator),
		collections: make(map[string]*collectionState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// VerifySecp256k1 is the default VerifyFunc: recover the compressed
// public key from a 65-byte [R||S||V] signature over the Keccak-256
// payload digest and compare it with the validator's registered key.
func VerifySecp256k1(validator *models.Validator, payload, signature []byte) error {
	if len(signature) != crypto.SignatureLength {
		return bridgeerr.E(bridgeerr.KindInvalidSignature,
			"signature must be %d bytes, got %d", crypto.SignatureLength, len(signature))
	}
	digest := PayloadDigest(payload)
	pub, err := crypto.SigToPub(digest, signature)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.KindInvalidSignature, err, "signature recovery failed")
	}
	recovered := hex.EncodeToString(crypto.CompressPubkey(pub))
	if !strings.EqualFold(recovered, validator.PublicKey) {
		return bridgeerr.E(bridgeerr.KindInvalidSignature,
			"signature does not match validator %s", validator.ID)
	}
	return nil
}

// DefaultThreshold is ceil(2n/3) for n active validators.
func DefaultThreshold(activeValidators int) int {
	if activeValidators <= 0 {
		return 0
	}
	return (2*activeValidators + 2) / 3
}

// RegisterValidator adds or replaces a validator.
func (e *Engine) RegisterValidator(v *models.Validator) {
	e.valMu.Lock()
	defer e.valMu.Unlock()
	if v.AddedAt.IsZero() {
		v.AddedAt = e.now().UTC()
	}
	e.validators[v.ID] = v
}

// SetValidatorActive flips a validator's active flag. The change
// affects thresholds computed at the next Open, never retroactively.
func (e *Engine) SetValidatorActive(id string, active bool) error {
	e.valMu.Lock()
	defer e.valMu.Unlock()
	v, ok := e.validators[id]
	if !ok {
		return bridgeerr.E(bridgeerr.KindNotFound, "validator %q not registered", id)
	}
	v.Active = active
	return nil
}

// ActiveValidators returns the currently active validator set.
func (e *Engine) ActiveValidators() []*models.Validator {
	e.valMu.RLock()
	defer e.valMu.RUnlock()
	out := make([]*models.Validator, 0, len(e.validators))
	for _, v := range e.validators {
		if v.Active {
			out = append(out, v)
		}
	}
	return out
}

// ActiveCount returns the number of active validators.
func (e *Engine) ActiveCount() int {
	return len(e.ActiveValidators())
}

// Threshold returns the threshold a collection opened now would use.
func (e *Engine) Threshold() int {
	return DefaultThreshold(e.ActiveCount())
}

// Open creates an empty collection for a transfer. required <= 0 uses
// the default ceil(2n/3) over the active set at this moment.
func (e *Engine) Open(validationID, transferID string, required int, payload []byte) (*models.SignatureCollection, error) {
	if required <= 0 {
		required = e.Threshold()
	}
	if required <= 0 {
		return nil, bridgeerr.E(bridgeerr.KindPreconditionFailed, "no active validators to sign")
	}

	e.colMu.Lock()
	defer e.colMu.Unlock()
	if _, exists := e.collections[validationID]; exists {
		return nil, bridgeerr.E(bridgeerr.KindPreconditionFailed,
			"collection %q already open", validationID)
	}
	record := &models.SignatureCollection{
		ID:         validationID,
		TransferID: transferID,
		Required:   required,
		Signatures: make(map[string][]byte),
		CreatedAt:  e.now().UTC(),
	}
	e.collections[validationID] = &collectionState{record: record, payload: append([]byte(nil), payload...)}
	e.logger.Debug("signature collection opened",
		zap.String("validationId", validationID),
		zap.String("transferId", transferID),
		zap.Int("required", required))
	return record.Clone(), nil
}

// AddSignature verifies and records one validator signature.
// Duplicate validators do not increment the count. Additions after the
// threshold are accepted but do not re-stamp CompletedAt.
func (e *Engine) AddSignature(validationID, validatorID string, signature []byte) (*AddResult, error) {
	e.valMu.RLock()
	validator, known := e.validators[validatorID]
	e.valMu.RUnlock()
	if !known || !validator.Active {
		return nil, bridgeerr.E(bridgeerr.KindInvalidValidator,
			"validator %q unknown or inactive", validatorID)
	}

	e.colMu.Lock()
	defer e.colMu.Unlock()
	state, ok := e.collections[validationID]
	if !ok {
		return nil, bridgeerr.E(bridgeerr.KindNotFound, "collection %q not found", validationID)
	}

	if err := e.verify(validator, state.payload, signature); err != nil {
		e.logger.Warn("signature rejected",
			zap.String("validationId", validationID),
			zap.String("validatorId", validatorID),
			zap.Error(err))
		return nil, err
	}

	record := state.record
	if _, dup := record.Signatures[validatorID]; !dup {
		record.Signatures[validatorID] = append([]byte(nil), signature...)
	}

	count := len(record.Signatures)
	reached := count >= record.Required
	if reached && record.CompletedAt == nil {
		at := e.now().UTC()
		record.CompletedAt = &at
		e.logger.Info("signature threshold reached",
			zap.String("validationId", validationID),
			zap.String("transferId", record.TransferID),
			zap.Int("count", count),
			zap.Int("required", record.Required))
	}
	return &AddResult{Count: count, Required: record.Required, ThresholdReached: reached}, nil
}

// Status returns a snapshot of a collection.
func (e *Engine) Status(validationID string) (*CollectionStatus, error) {
	e.colMu.Lock()
	defer e.colMu.Unlock()
	state, ok := e.collections[validationID]
	if !ok {
		return nil, bridgeerr.E(bridgeerr.KindNotFound, "collection %q not found", validationID)
	}
	record := state.record
	status := &CollectionStatus{
		Count:    len(record.Signatures),
		Required: record.Required,
		Complete: record.Complete(),
		OpenedAt: record.CreatedAt,
	}
	if record.CompletedAt != nil {
		at := *record.CompletedAt
		status.CompletedAt = &at
	}
	return status, nil
}

// Collection returns a deep copy of the collection record.
func (e *Engine) Collection(validationID string) (*models.SignatureCollection, error) {
	e.colMu.Lock()
	defer e.colMu.Unlock()
	state, ok := e.collections[validationID]
	if !ok {
		return nil, bridgeerr.E(bridgeerr.KindNotFound, "collection %q not found", validationID)
	}
	return state.record.Clone(), nil
}
