// Package matching implements the core trade loop: pop the best
// counter order, apply the limit gate, fill (splitting the last order
// when it is larger than the remainder), settle, and archive.
package matching

import (
	"go.uber.org/zap"

	"github.com/spotbeacon/engine/pkg/engine/archive"
	"github.com/spotbeacon/engine/pkg/engine/order"
	"github.com/spotbeacon/engine/pkg/engine/orderbook"
	"github.com/spotbeacon/engine/pkg/engine/pool"
	"github.com/spotbeacon/engine/pkg/engine/settlement"
)

// Result distinguishes a trade call that fully executed against the
// book from one that rested a remainder as a new open order.
type Result struct {
	Filled           *pool.Amount
	RestOrderCreated bool
	RestOrder        *order.Order
}

// Book is the minimal view matching needs of a token's order book.
type Book = orderbook.Book

// Trade matches `amount` of `side` against `book`, settling every fill
// through f. If price is non-nil and the amount was not fully filled, it
// builds a rest order for the remainder at `price` and returns it in the
// Result; it neither reserves that order's liquidity nor inserts it into
// the book, which is left to the caller. A market order (price == nil)
// never gets a rest order.
//
// Matching makes no external calls and never suspends.
func Trade(
	log *zap.Logger,
	book *Book,
	arc *archive.Archive,
	f settlement.Fill,
	trader [20]byte,
	side order.Side,
	amount *pool.Amount,
	price *pool.Amount, // nil == market order
	now uint64,
	decimals uint32,
	paymentFee *pool.Amount,
	txFeeNumer uint64,
) Result {
	if log == nil {
		log = zap.NewNop()
	}
	counter := book.CounterSide(side)
	remaining := amount.Clone()
	filled := pool.Zero()

	for remaining.Sign() > 0 {
		best, ok := counter.PopBest()
		if !ok {
			break
		}

		if price != nil {
			gate := (side == order.Buy && price.Cmp(best.Price) < 0) ||
				(side == order.Sell && price.Cmp(best.Price) > 0)
			if gate {
				counter.Insert(best)
				break
			}
		}

		reservedBefore := best.ReservedLiquidity()
		var thisFill *pool.Amount
		if best.Amount.Cmp(remaining) > 0 {
			// Partial fill: split best into a remainder order kept on the
			// book and a same-price stub sized to `remaining` that settles
			// now.
			residue := &order.Order{
				Side: best.Side, Owner: best.Owner, Price: best.Price.Clone(),
				CreatedAt: best.CreatedAt, Decimals: best.Decimals,
				PaymentFee: best.PaymentFee.Clone(), TxFeeNumer: best.TxFeeNumer,
			}
			residueAmt, err := pool.CheckedSub(best.Amount, remaining)
			if err != nil {
				panic("matching: amount underflow computing fill residue")
			}
			residue.Amount = residueAmt
			counter.Insert(residue)

			best.Amount = remaining.Clone()
			thisFill = remaining.Clone()
			remaining = pool.Zero()

			freedRaw := pool.CheckedAdd(residue.ReservedLiquidity(), best.ReservedLiquidity())
			if freedRaw.Cmp(reservedBefore) < 0 {
				freed, err := pool.CheckedSub(reservedBefore, freedRaw)
				if err == nil && freed.Sign() > 0 {
					// Only a resting buy reserves payment-token liquidity, so
					// only this branch ever has rounding dust to return.
					f.PaymentPool.Credit(best.Owner, freed)
				}
			}
		} else {
			thisFill = best.Amount.Clone()
			r, err := pool.CheckedSub(remaining, best.Amount)
			if err != nil {
				panic("matching: remaining underflow consuming best order")
			}
			remaining = r
		}

		settlement.Settle(f, side, trader, best)
		filled = pool.CheckedAdd(filled, thisFill)

		best.ExecutedAt = now
		arc.PushFront(best)
		log.Debug("order filled",
			zap.String("side", best.Side.String()),
			zap.Stringer("amount", thisFill),
			zap.Stringer("price", best.Price))
	}

	res := Result{Filled: filled}
	if price != nil && filled.Cmp(amount) < 0 {
		remainder, err := pool.CheckedSub(amount, filled)
		if err != nil {
			panic("matching: filled exceeds requested amount")
		}
		rest := &order.Order{
			Side: side, Owner: trader, Amount: remainder, Price: price.Clone(),
			CreatedAt: now, Decimals: decimals, PaymentFee: paymentFee.Clone(),
			TxFeeNumer: txFeeNumer,
		}
		res.RestOrderCreated = true
		res.RestOrder = rest
	}
	return res
}
