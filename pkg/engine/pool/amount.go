package pool

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/spotbeacon/engine/pkg/engine/apperr"
)

// Amount is the engine's u128 value type. holiman/uint256.Int is a
// fixed 256-bit integer; the engine only ever stores values that fit in
// the low 128 bits (legitimate sums stay below 2^127), so every path
// that produces a new Amount from arithmetic checks Fits128 before
// trusting it.
type Amount = uint256.Int

// Zero returns a fresh zero-valued amount.
func Zero() *Amount { return new(uint256.Int) }

// FromUint64 builds an amount from a machine-word value.
func FromUint64(v uint64) *Amount { return new(uint256.Int).SetUint64(v) }

// Fits128 reports whether v is within the engine's u128 range.
func Fits128(v *Amount) bool { return v.BitLen() <= 128 }

// CheckedAdd adds a and b, panicking on overflow. Pool credits never
// legitimately overflow — a violation is fatal.
func CheckedAdd(a, b *Amount) *Amount {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow || !Fits128(sum) {
		panic(fmt.Sprintf("pool: amount overflow adding %s + %s", a, b))
	}
	return sum
}

// CheckedSub subtracts b from a, returning ErrInsufficientFunds
// instead of panicking — subtraction failures are caller errors, not
// invariant violations.
func CheckedSub(a, b *Amount) (*Amount, error) {
	if b.Gt(a) {
		return nil, apperr.ErrInsufficientFunds
	}
	return new(uint256.Int).Sub(a, b), nil
}

// CheckedMul multiplies a and b, reporting whether the product fits —
// saturating or wrapping on amount*price would corrupt settlement.
func CheckedMul(a, b *Amount) (*Amount, bool) {
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow || !Fits128(prod) {
		return nil, false
	}
	return prod, true
}

// Div performs integer division; callers must ensure divisor != 0.
func Div(a, b *Amount) *Amount {
	return new(uint256.Int).Div(a, b)
}

// Max returns the greater of a and b.
func Max(a, b *Amount) *Amount {
	if a.Gt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// Cmp compares a and b the way uint256.Int.Cmp does (-1, 0, 1).
func Cmp(a, b *Amount) int { return a.Cmp(b) }
