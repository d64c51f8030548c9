// Package order defines the immutable order record and its derived
// quantities. Orders are snapshots: once created, amount/price and
// the decimals/payment_fee taken at creation time never change except
// for the amount reduction a partial fill performs in place.
package order

import (
	"github.com/holiman/uint256"

	"github.com/spotbeacon/engine/pkg/engine/pool"
)

// Side mirrors engine.Side without importing the engine package, to
// avoid an import cycle between order and its callers.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Order is the exchange's order record.
type Order struct {
	Side        Side
	Owner       [20]byte
	Amount      *uint256.Int // quantity of the non-payment token, base units
	Price       *uint256.Int // payment-token base units per 10^Decimals of the non-payment token
	CreatedAt   uint64       // nanoseconds
	ExecutedAt  uint64       // 0 == open
	Decimals    uint32       // non-payment token decimals, snapshotted at creation
	PaymentFee  *uint256.Int // payment-token ledger fee, snapshotted at creation
	// TxFeeNumer is an extra snapshot beyond the core record: it pins
	// the protocol fee numerator at creation so a later change to the
	// constant cannot retroactively alter a resting order's fee.
	TxFeeNumer uint64
}

// IsOpen reports whether the order is still resting on the book.
func (o *Order) IsOpen() bool { return o.ExecutedAt == 0 }

// Volume is amount*price/10^decimals in payment-token base units.
// Panics if the amount*price product would overflow a u128 quantity —
// such an order should have been rejected at creation.
func (o *Order) Volume() *uint256.Int {
	prod, ok := pool.CheckedMul(o.Amount, o.Price)
	if !ok {
		panic("order: amount*price overflows u128 range")
	}
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(o.Decimals)))
	return pool.Div(prod, scale)
}

// TradingFee is max(1, volume*TxFeeNumer/payment_fee).
func (o *Order) TradingFee() *uint256.Int {
	volume := o.Volume()
	if o.PaymentFee.IsZero() {
		return uint256.NewInt(1)
	}
	prod, ok := pool.CheckedMul(volume, uint256.NewInt(o.TxFeeNumer))
	if !ok {
		panic("order: volume*fee numerator overflows u128 range")
	}
	fee := pool.Div(prod, o.PaymentFee)
	return pool.Max(fee, uint256.NewInt(1))
}

// ReservedLiquidity is the amount debited from the reserving pool at
// creation and credited back on close: volume+trading_fee for a buy,
// amount for a sell.
func (o *Order) ReservedLiquidity() *uint256.Int {
	if o.Side == Sell {
		return o.Amount.Clone()
	}
	return pool.CheckedAdd(o.Volume(), o.TradingFee())
}

// Key is the total-order key used by the book and by uniqueness checks:
// (price, created_at, amount, owner). Comparisons are only meaningful
// between orders of equal side and equal open/archived state; callers
// (the book) enforce that precondition by construction.
type Key struct {
	Price     *uint256.Int
	CreatedAt uint64
	Amount    *uint256.Int
	Owner     [20]byte
}

func (o *Order) Key() Key {
	return Key{Price: o.Price, CreatedAt: o.CreatedAt, Amount: o.Amount, Owner: o.Owner}
}

// Compare implements the lexicographic total order over Key: no two
// distinct open orders compare equal because Owner is the final
// tiebreaker and two orders from the same owner with identical
// price/created_at/amount are the same order.
func Compare(a, b Key) int {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c
	}
	if a.CreatedAt != b.CreatedAt {
		if a.CreatedAt < b.CreatedAt {
			return -1
		}
		return 1
	}
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		return c
	}
	for i := 0; i < 20; i++ {
		if a.Owner[i] != b.Owner[i] {
			if a.Owner[i] < b.Owner[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
