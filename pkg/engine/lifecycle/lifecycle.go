// Package lifecycle implements order creation, closing, bulk
// cancellation, and expiry, wired to the activity rate limiter and the
// token registry.
package lifecycle

import (
	"go.uber.org/zap"

	"github.com/spotbeacon/engine/pkg/engine/activity"
	"github.com/spotbeacon/engine/pkg/engine/apperr"
	"github.com/spotbeacon/engine/pkg/engine/order"
	"github.com/spotbeacon/engine/pkg/engine/orderbook"
	"github.com/spotbeacon/engine/pkg/engine/pool"
	"github.com/spotbeacon/engine/pkg/engine/token"
)

// Context bundles the per-token and per-user state create/close need.
// Callers (the top-level engine) resolve token -> {Book, Pool} and hand
// in the specific instances for the token under mutation.
type Context struct {
	Log           *zap.Logger
	Book          *orderbook.Book
	ReservingPool *pool.Ledger // payment pool for a Buy, the token's own pool for a Sell
	Activity      *activity.Log
	Registry      *token.Registry
	PaymentToken  [20]byte
	Token         [20]byte
	TxFee         uint64 // protocol fee numerator snapshotted into each new order
}

// CreateOrder validates, rate-limits, reserves, and books a new open
// order, returning the constructed record.
func CreateOrder(c Context, user [20]byte, amount, price *pool.Amount, ts uint64, side order.Side) (*order.Order, error) {
	if price.IsZero() {
		return nil, apperr.ErrInvalidPrice
	}
	if err := c.Activity.Record(user, ts); err != nil {
		return nil, err
	}
	c.Registry.TouchActivity(c.Token, ts)

	if c.Token == c.PaymentToken {
		return nil, apperr.ErrNotListed
	}
	meta, ok := c.Registry.Get(c.Token)
	if !ok {
		return nil, apperr.ErrNotListed
	}
	payMeta, ok := c.Registry.Get(c.PaymentToken)
	if !ok {
		return nil, apperr.ErrNotListed
	}

	o := &order.Order{
		Side: side, Owner: user, Amount: amount.Clone(), Price: price.Clone(),
		CreatedAt: ts, Decimals: meta.Decimals, PaymentFee: payMeta.Fee.Clone(),
		TxFeeNumer: c.TxFee,
	}

	volume := o.Volume()
	fee := o.TradingFee()
	tenFee, ok := pool.CheckedMul(fee, pool.FromUint64(10))
	if !ok || tenFee.Cmp(volume) > 0 {
		return nil, apperr.ErrOrderTooSmall
	}

	reserved := o.ReservedLiquidity()
	if reserved.Cmp(c.ReservingPool.Balance(user)) > 0 {
		return nil, apperr.ErrInsufficientFunds
	}

	bookSide := c.Book.SideFor(side)
	if bookSide.Contains(o) {
		return nil, apperr.ErrAlreadyExists
	}
	if err := c.ReservingPool.Debit(user, reserved); err != nil {
		return nil, err
	}
	bookSide.Insert(o)
	c.Log.Debug("order created",
		zap.String("side", side.String()), zap.Stringer("amount", amount), zap.Stringer("price", price))
	return o, nil
}

// CloseOrder finds an open order by exact key, removes it, and refunds
// the reservation.
func CloseOrder(c Context, user [20]byte, amount, price *pool.Amount, ts uint64, side order.Side) error {
	probe := &order.Order{Side: side, Owner: user, Amount: amount, Price: price, CreatedAt: ts}
	bookSide := c.Book.SideFor(side)
	found, ok := bookSide.Get(probe)
	if !ok {
		return apperr.ErrNotFound
	}
	bookSide.Remove(found)
	c.ReservingPool.Credit(user, found.ReservedLiquidity())
	return nil
}

// Predicate decides whether an open order should be closed by a bulk
// cancellation pass.
type Predicate func(*order.Order) bool

// CloseByCondition scans buys and sells in book order, closing up to max
// orders matching pred, crediting each reservation back to its reserving
// pool (paymentPool for a Buy, tokenPool for a Sell — the caller
// supplies both since a bulk scan spans both sides).
func CloseByCondition(book *orderbook.Book, paymentPool, tokenPool *pool.Ledger, pred Predicate, max int) int {
	closed := 0
	for _, side := range []order.Side{order.Buy, order.Sell} {
		bookSide := book.SideFor(side)
		var toClose []*order.Order
		bookSide.Each(func(o *order.Order) {
			if closed+len(toClose) >= max {
				return
			}
			if pred(o) {
				toClose = append(toClose, o)
			}
		})
		reservingPool := tokenPool
		if side == order.Buy {
			reservingPool = paymentPool
		}
		for _, o := range toClose {
			bookSide.Remove(o)
			reservingPool.Credit(o.Owner, o.ReservedLiquidity())
			closed++
		}
	}
	return closed
}

// ExpireOrders closes every order created before now-expirationWindow
// across both sides.
func ExpireOrders(book *orderbook.Book, paymentPool, tokenPool *pool.Ledger, now uint64, expirationWindowNanos uint64, max int) int {
	cutoff := uint64(0)
	if now > expirationWindowNanos {
		cutoff = now - expirationWindowNanos
	}
	return CloseByCondition(book, paymentPool, tokenPool, func(o *order.Order) bool {
		return o.CreatedAt < cutoff
	}, max)
}
