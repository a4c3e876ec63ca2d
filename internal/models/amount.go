package models

import (
	"fmt"
	"math/big"
	"strings"
)

// Amount is an arbitrary-precision decimal used for transfer values and
// fees. Internally a big.Rat whose denominator stays a power of ten for
// any value parsed from a decimal string, so Plain() is always exact.
//
// The zero value is a valid zero amount.
type Amount struct {
	rat big.Rat
}

// ParseAmount parses a plain decimal string ("100", "0.001", "12.50").
// Scientific notation and signs other than a leading '-' are rejected.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("empty amount")
	}
	if strings.ContainsAny(s, "eE/") {
		return Amount{}, fmt.Errorf("amount %q: plain decimal required", s)
	}
	var r big.Rat
	if _, ok := r.SetString(s); !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	return Amount{rat: r}, nil
}

// MustAmount parses a decimal string and panics on failure.
// Intended for constants and tests.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AmountFromInt64 builds an integral amount.
func AmountFromInt64(v int64) Amount {
	var r big.Rat
	r.SetInt64(v)
	return Amount{rat: r}
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	var r big.Rat
	r.Add(&a.rat, &b.rat)
	return Amount{rat: r}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	var r big.Rat
	r.Sub(&a.rat, &b.rat)
	return Amount{rat: r}
}

// Mul returns a * b.
func (a Amount) Mul(b Amount) Amount {
	var r big.Rat
	r.Mul(&a.rat, &b.rat)
	return Amount{rat: r}
}

// Cmp compares a and b: -1 if a < b, 0 if equal, +1 if a > b.
func (a Amount) Cmp(b Amount) int {
	return a.rat.Cmp(&b.rat)
}

// IsPositive reports a > 0.
func (a Amount) IsPositive() bool {
	return a.rat.Sign() > 0
}

// IsZero reports a == 0.
func (a Amount) IsZero() bool {
	return a.rat.Sign() == 0
}

// Float64 returns the nearest float64 value. Used for metrics and
// slippage estimates only, never for accounting.
func (a Amount) Float64() float64 {
	f, _ := a.rat.Float64()
	return f
}

// Plain renders the canonical plain decimal string: no exponent, no
// trailing zeros, no trailing dot. This is the exact form hashed into
// signable payloads and fraud-proof digests.
func (a Amount) Plain() string {
	if a.rat.IsInt() {
		return a.rat.Num().String()
	}
	s := a.rat.FloatString(30)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}

// String implements fmt.Stringer.
func (a Amount) String() string {
	return a.Plain()
}

// MarshalJSON encodes the amount as a JSON string to keep precision.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.Plain() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a bare number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
