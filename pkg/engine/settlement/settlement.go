// Package settlement applies the pool adjustments for a single fill:
// move the traded tokens, pay out the order's volume net of the trading
// fee, and credit twice the fee to the revenue account. The buy/sell
// asymmetry exists because a resting buy pre-reserved its payment at
// creation while a trader's funds are still live in the pools.
package settlement

import (
	"fmt"

	"github.com/spotbeacon/engine/pkg/engine/order"
	"github.com/spotbeacon/engine/pkg/engine/pool"
)

// Fill carries the pools a settlement touches: tokenPool is the
// non-payment token's ledger, paymentPool is the payment token's.
type Fill struct {
	TokenPool   *pool.Ledger
	PaymentPool *pool.Ledger
	RevenueAcct [20]byte
}

// Settle applies the fill adjustments for one resting order O matched
// against an incoming trade of side tradeSide from trader T. O.Side
// must differ from tradeSide. Every adjustment is checked; a failure
// here means a prior invariant (a reservation, a balance) was already
// violated, so Settle panics rather than returning an error — there is
// no sane compensating action at this layer.
func Settle(f Fill, tradeSide order.Side, trader [20]byte, o *order.Order) {
	if o.Side == tradeSide {
		panic("settlement: resting order side must differ from trade side")
	}

	var paymentReceiver, tokenReceiver [20]byte
	if tradeSide == order.Buy {
		paymentReceiver, tokenReceiver = o.Owner, trader
	} else {
		paymentReceiver, tokenReceiver = trader, o.Owner
	}

	v := o.Volume()
	fee := o.TradingFee()

	if tradeSide == order.Sell {
		must(f.TokenPool.Debit(trader, o.Amount))
	}
	f.TokenPool.Credit(tokenReceiver, o.Amount)

	if tradeSide == order.Buy {
		due := pool.CheckedAdd(v, fee)
		must(f.PaymentPool.Debit(trader, due))
	}
	net, err := pool.CheckedSub(v, fee)
	if err != nil {
		panic(fmt.Sprintf("settlement: volume %s smaller than fee %s", v, fee))
	}
	f.PaymentPool.Credit(paymentReceiver, net)

	revenue := pool.CheckedAdd(fee, fee)
	f.PaymentPool.Credit(f.RevenueAcct, revenue)
}

func must(err error) {
	if err != nil {
		panic("settlement: " + err.Error())
	}
}
