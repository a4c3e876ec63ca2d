package multisig

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/aurigraph/bridge/internal/bridgeerr"
	"github.com/aurigraph/bridge/internal/models"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testValidator struct {
	validator *models.Validator
	key       *ecdsa.PrivateKey
}

func newTestValidator(t *testing.T, id string) *testValidator {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &testValidator{
		validator: &models.Validator{
			ID:        id,
			PublicKey: hex.EncodeToString(crypto.CompressPubkey(&key.PublicKey)),
			Active:    true,
		},
		key: key,
	}
}

func (v *testValidator) sign(t *testing.T, payload []byte) []byte {
	t.Helper()
	sig, err := crypto.Sign(PayloadDigest(payload), v.key)
	require.NoError(t, err)
	return sig
}

func newEngine(t *testing.T, validators ...*testValidator) *Engine {
	t.Helper()
	e := NewEngine(zap.NewNop())
	for _, v := range validators {
		e.RegisterValidator(v.validator)
	}
	return e
}

func testPayload() []byte {
	return SignablePayload(&models.Transfer{
		ID:            "t-1",
		SourceChain:   "ethereum",
		TargetChain:   "polygon",
		SourceAddress: "0xalice",
		TargetAddress: "0xbob",
		TokenSymbol:   "USDC",
		Amount:        models.MustAmount("100"),
		Nonce:         7,
	})
}

func TestSignablePayloadFormat(t *testing.T) {
	payload := testPayload()
	assert.Equal(t, "t-1|ethereum|polygon|0xalice|0xbob|USDC|100|7", string(payload))
}

func TestDefaultThreshold(t *testing.T) {
	// required tracks ceil(2n/3)
	cases := map[int]int{1: 1, 2: 2, 3: 2, 4: 3, 5: 4, 6: 4, 7: 5, 9: 6}
	for n, want := range cases {
		assert.Equal(t, want, DefaultThreshold(n), "n=%d", n)
	}
	assert.Equal(t, 0, DefaultThreshold(0))
}

func TestThresholdTracksSetOnNextOpen(t *testing.T) {
	validators := make([]*testValidator, 0, 4)
	for i := 0; i < 4; i++ {
		validators = append(validators, newTestValidator(t, fmt.Sprintf("v%d", i)))
	}
	e := newEngine(t, validators...)
	payload := testPayload()

	first, err := e.Open("val-1", "t-1", 0, payload)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Required) // ceil(8/3)

	// Deactivating a validator changes the threshold for the NEXT open
	// only; the existing collection keeps its requirement.
	require.NoError(t, e.SetValidatorActive("v3", false))
	second, err := e.Open("val-2", "t-2", 0, payload)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Required)

	status, err := e.Status("val-1")
	require.NoError(t, err)
	assert.Equal(t, 3, status.Required)
}

func TestAddSignatureDeduplicates(t *testing.T) {
	v1 := newTestValidator(t, "v1")
	v2 := newTestValidator(t, "v2")
	v3 := newTestValidator(t, "v3")
	e := newEngine(t, v1, v2, v3)
	payload := testPayload()

	_, err := e.Open("val-1", "t-1", 2, payload)
	require.NoError(t, err)

	sig := v1.sign(t, payload)
	result, err := e.AddSignature("val-1", "v1", sig)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.False(t, result.ThresholdReached)

	// The same validator again does not increment the count.
	result, err = e.AddSignature("val-1", "v1", sig)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)

	result, err = e.AddSignature("val-1", "v2", v2.sign(t, payload))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count)
	assert.True(t, result.ThresholdReached)
}

func TestCompletedAtStampedOnce(t *testing.T) {
	v1 := newTestValidator(t, "v1")
	v2 := newTestValidator(t, "v2")
	e := newEngine(t, v1, v2)
	payload := testPayload()

	_, err := e.Open("val-1", "t-1", 1, payload)
	require.NoError(t, err)

	_, err = e.AddSignature("val-1", "v1", v1.sign(t, payload))
	require.NoError(t, err)

	first, err := e.Status("val-1")
	require.NoError(t, err)
	require.NotNil(t, first.CompletedAt)
	stamp := *first.CompletedAt

	time.Sleep(5 * time.Millisecond)
	// Additions past the threshold are accepted but never re-stamp.
	result, err := e.AddSignature("val-1", "v2", v2.sign(t, payload))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count)

	second, err := e.Status("val-1")
	require.NoError(t, err)
	assert.Equal(t, stamp, *second.CompletedAt)
}

func TestRejectsUnknownAndInactiveValidators(t *testing.T) {
	v1 := newTestValidator(t, "v1")
	e := newEngine(t, v1)
	payload := testPayload()
	_, err := e.Open("val-1", "t-1", 1, payload)
	require.NoError(t, err)

	_, err = e.AddSignature("val-1", "ghost", []byte("sig"))
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindInvalidValidator, bridgeerr.KindOf(err))

	require.NoError(t, e.SetValidatorActive("v1", false))
	_, err = e.AddSignature("val-1", "v1", v1.sign(t, payload))
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindInvalidValidator, bridgeerr.KindOf(err))
}

func TestRejectsForgedSignature(t *testing.T) {
	v1 := newTestValidator(t, "v1")
	forger := newTestValidator(t, "forger")
	e := newEngine(t, v1)
	payload := testPayload()
	_, err := e.Open("val-1", "t-1", 1, payload)
	require.NoError(t, err)

	// A signature from another key must not verify as v1.
	_, err = e.AddSignature("val-1", "v1", forger.sign(t, payload))
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindInvalidSignature, bridgeerr.KindOf(err))

	status, err := e.Status("val-1")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Count)
}

func TestOpenWithoutValidators(t *testing.T) {
	e := NewEngine(zap.NewNop())
	_, err := e.Open("val-1", "t-1", 0, testPayload())
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindPreconditionFailed, bridgeerr.KindOf(err))
}
