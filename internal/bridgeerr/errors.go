// Package bridgeerr defines the bridge error taxonomy.
// Every error surfaced by the coordination core carries a Kind so callers
// can act on the classification without string matching.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Kind is the taxonomy name of a bridge error.
type Kind string

const (
	// KindInvalidRequest - request violates a domain invariant (amount <= 0, same chain, empty address)
	KindInvalidRequest Kind = "InvalidRequest"

	// KindUnsupportedChain - chain id not present in the chain registry
	KindUnsupportedChain Kind = "UnsupportedChain"

	// KindLimitExceeded - amount above the per-chain cap
	KindLimitExceeded Kind = "LimitExceeded"

	// KindRateLimited - caller exceeded the per-address request window
	KindRateLimited Kind = "RateLimited"

	// KindNotFound - unknown entity id
	KindNotFound Kind = "NotFound"

	// KindPreconditionFailed - state machine rejected the transition
	KindPreconditionFailed Kind = "PreconditionFailed"

	// KindReplayDetected - message nonce not above the last seen for (sender, target)
	KindReplayDetected Kind = "ReplayDetected"

	// KindInvalidSignature - validator signature failed the cryptographic check
	KindInvalidSignature Kind = "InvalidSignature"

	// KindInvalidValidator - signer unknown or deactivated
	KindInvalidValidator Kind = "InvalidValidator"

	// KindInvalidSecret - HTLC reveal does not match the stored hashlock
	KindInvalidSecret Kind = "InvalidSecret"

	// KindAdapterTransient - retryable adapter failure (timeout, connection, nonce too low)
	KindAdapterTransient Kind = "AdapterTransient"

	// KindAdapterTerminal - non-retryable adapter failure
	KindAdapterTerminal Kind = "AdapterTerminal"

	// KindInternal - bug or invariant violation inside the core
	KindInternal Kind = "Internal"
)

// Error is a classified bridge error. It wraps an optional cause and
// carries the taxonomy Kind plus a human-readable reason.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so errors.Is(err, bridgeerr.E(kind, "")) works
// against any error of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// E creates a classified error.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the taxonomy kind from an error chain.
// Unclassified errors report KindInternal.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// IsKind reports whether the first *Error found in err's chain has the
// given kind; classified errors wrapped deeper are not consulted.
func IsKind(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// Retryable reports whether the error is a transient adapter failure that
// the orchestrator may retry with backoff.
func Retryable(err error) bool {
	return IsKind(err, KindAdapterTransient)
}
