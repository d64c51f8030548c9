package engine

import (
	"context"
	"testing"

	"github.com/spotbeacon/engine/pkg/engine/apperr"
	"github.com/spotbeacon/engine/pkg/engine/order"
	"github.com/spotbeacon/engine/pkg/engine/pool"
	"github.com/spotbeacon/engine/pkg/ledger"
)

var revAcct = addr(0xAA)

// Funds under management of both tokens must be unchanged by a fully
// matched trade: the reservation released by the consumed buy exactly
// covers the seller's proceeds plus the revenue fee.
func TestTradePreservesFundsUnderManagement(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetRevenueAccount(revAcct, revAcct); err != nil {
		t.Fatalf("set revenue account: %v", err)
	}
	e.poolFor(payToken).Credit(u1, amt(1_000_000))
	e.poolFor(tok).Credit(u2, amt(10))

	if _, err := e.CreateOrder(u1, tok, amt(10), amt(25_050), 1, order.Buy); err != nil {
		t.Fatalf("create buy: %v", err)
	}
	payBefore := e.FundsUnderManagement(payToken)
	tokBefore := e.FundsUnderManagement(tok)

	res, err := e.Trade(u2, tok, amt(10), amt(0), order.Sell, 2)
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if res.Filled.Cmp(amt(10)) != 0 {
		t.Fatalf("expected full fill of 10, got %s", res.Filled)
	}

	if after := e.FundsUnderManagement(payToken); after.Cmp(payBefore) != 0 {
		t.Fatalf("payment FUM changed across trade: before=%s after=%s", payBefore, after)
	}
	if after := e.FundsUnderManagement(tok); after.Cmp(tokBefore) != 0 {
		t.Fatalf("token FUM changed across trade: before=%s after=%s", tokBefore, after)
	}
	// volume = 10*25050/100 = 2505, fee = 2505*20/10000 = 5
	if b := e.poolFor(payToken).Balance(u2); b.Cmp(amt(2_500)) != 0 {
		t.Fatalf("expected seller paid volume-fee = 2500, got %s", b)
	}
	if b := e.poolFor(payToken).Balance(revAcct); b.Cmp(amt(10)) != 0 {
		t.Fatalf("expected revenue = 2*fee = 10, got %s", b)
	}
}

// A partial fill of a resting buy can strand reservation particles:
// volume is computed with integer division, so the residue order plus
// the consumed stub may reserve less than the original did. The
// difference must come back to the buy's owner or payment FUM drifts.
func TestPartialFillFreesRoundingDust(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetRevenueAccount(revAcct, revAcct); err != nil {
		t.Fatalf("set revenue account: %v", err)
	}
	e.poolFor(payToken).Credit(u1, amt(1_000_000))
	e.poolFor(tok).Credit(u2, amt(9))

	// amount=10 @ 25050: volume 2505, fee 5, reservation 2510. Splitting
	// off 9 leaves residue 1 (volume 250, fee 1, reserves 251) and a
	// settled stub of 9 (volume 2254, fee 4, reserves 2258): one particle
	// is freed.
	if _, err := e.CreateOrder(u1, tok, amt(10), amt(25_050), 1, order.Buy); err != nil {
		t.Fatalf("create buy: %v", err)
	}
	payBefore := e.FundsUnderManagement(payToken)

	res, err := e.Trade(u2, tok, amt(9), amt(0), order.Sell, 2)
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if res.Filled.Cmp(amt(9)) != 0 {
		t.Fatalf("expected filled=9, got %s", res.Filled)
	}

	if b := e.poolFor(payToken).Balance(u1); b.Cmp(amt(997_491)) != 0 {
		t.Fatalf("expected u1 to recover 1 freed particle (997491), got %s", b)
	}
	open := e.Orders(tok, order.Buy)
	if len(open) != 1 || open[0].Amount.Cmp(amt(1)) != 0 {
		t.Fatalf("expected a residue buy of 1 to remain, got %+v", open)
	}
	if r := open[0].ReservedLiquidity(); r.Cmp(amt(251)) != 0 {
		t.Fatalf("expected residue reservation recomputed to 251, got %s", r)
	}
	if after := e.FundsUnderManagement(payToken); after.Cmp(payBefore) != 0 {
		t.Fatalf("payment FUM drifted on partial fill: before=%s after=%s", payBefore, after)
	}
}

func TestExactFillConsumesBestOrder(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(10_000))
	e.poolFor(tok).Credit(u2, amt(5))

	if _, err := e.CreateOrder(u1, tok, amt(5), amt(20_000), 1, order.Buy); err != nil {
		t.Fatalf("create buy: %v", err)
	}
	res, err := e.Trade(u2, tok, amt(5), amt(0), order.Sell, 2)
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if res.Filled.Cmp(amt(5)) != 0 {
		t.Fatalf("expected filled=5, got %s", res.Filled)
	}
	if n := len(e.Orders(tok, order.Buy)); n != 0 {
		t.Fatalf("expected the buy fully consumed, %d orders remain", n)
	}
}

func TestLimitPastTopOrderFillsNothing(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(1_000_000))
	e.poolFor(tok).Credit(u2, amt(10))

	if _, err := e.CreateOrder(u1, tok, amt(10), amt(1_000_000), 1, order.Buy); err != nil {
		t.Fatalf("create buy: %v", err)
	}
	res, err := e.Trade(u2, tok, amt(10), amt(2_000_000), order.Sell, 2)
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if res.Filled.Sign() != 0 {
		t.Fatalf("expected filled=0 past the top order, got %s", res.Filled)
	}
	if !res.RestOrderCreated {
		t.Fatalf("expected the unfilled limit sell to rest")
	}
	if n := len(e.Orders(tok, order.Buy)); n != 1 {
		t.Fatalf("expected the gated buy reinserted, %d buys on book", n)
	}
	if n := len(e.Orders(tok, order.Sell)); n != 1 {
		t.Fatalf("expected the rest sell on book, got %d", n)
	}
}

func TestMarketOrderOnEmptyBookFillsNothing(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(tok).Credit(u2, amt(10))

	res, err := e.Trade(u2, tok, amt(10), amt(0), order.Sell, 1)
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if res.Filled.Sign() != 0 || res.RestOrderCreated {
		t.Fatalf("market order on empty book must return Filled(0) with no rest, got filled=%s rest=%v",
			res.Filled, res.RestOrderCreated)
	}
	if b := e.poolFor(tok).Balance(u2); b.Cmp(amt(10)) != 0 {
		t.Fatalf("market order must not touch the trader's pool, got %s", b)
	}
}

// Within one trade, archived orders (newest at the front) carry
// non-decreasing prices front-to-back for a trader sell: the best
// (highest) buy executed first and so sits deepest in the archive.
func TestArchiveOrderingWithinOneTrade(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(2_000_000))
	e.poolFor(tok).Credit(u2, amt(23))

	if _, err := e.CreateOrder(u1, tok, amt(7), amt(10_000_000), 1, order.Buy); err != nil {
		t.Fatalf("buy1: %v", err)
	}
	if _, err := e.CreateOrder(u1, tok, amt(16), amt(3_000_000), 2, order.Buy); err != nil {
		t.Fatalf("buy2: %v", err)
	}
	if _, err := e.Trade(u2, tok, amt(23), amt(0), order.Sell, 3); err != nil {
		t.Fatalf("trade: %v", err)
	}

	arc := e.ExecutedOrders(tok)
	if len(arc) != 2 {
		t.Fatalf("expected 2 archived orders, got %d", len(arc))
	}
	if arc[0].Price.Cmp(amt(3_000_000)) != 0 || arc[1].Price.Cmp(amt(10_000_000)) != 0 {
		t.Fatalf("expected archive [3M, 10M] newest-first, got [%s, %s]", arc[0].Price, arc[1].Price)
	}
	for _, o := range arc {
		if o.ExecutedAt == 0 {
			t.Fatalf("archived order missing executed_at stamp: %+v", o)
		}
	}
}

// scriptedLedger reports a fixed subaccount balance and accepts every
// transfer, recording each one.
type scriptedLedger struct {
	balance   *pool.Amount
	transfers []ledger.TransferArgs
}

func (s *scriptedLedger) BalanceOf(context.Context, [20]byte, [32]byte) (*pool.Amount, error) {
	return s.balance.Clone(), nil
}

func (s *scriptedLedger) Transfer(_ context.Context, _ [20]byte, args ledger.TransferArgs) (uint64, error) {
	s.transfers = append(s.transfers, args)
	return uint64(len(s.transfers)), nil
}

func (s *scriptedLedger) Metadata(context.Context, [20]byte) (ledger.Metadata, error) {
	return ledger.Metadata{}, nil
}

// Deposit then withdraw returns the original wallet minus two ledger
// fees: one consumed sweeping the subaccount into the house, one paying
// the withdrawal transfer.
func TestDepositThenWithdrawRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	led := &scriptedLedger{balance: amt(10_000)}
	e.ledger = led

	deposited, err := e.DepositLiquidity(context.Background(), u1, tok)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if deposited.Cmp(amt(9_975)) != 0 {
		t.Fatalf("expected deposit of 10000-25, got %s", deposited)
	}
	if b := e.poolFor(tok).Balance(u1); b.Cmp(amt(9_975)) != 0 {
		t.Fatalf("expected pool credited 9975, got %s", b)
	}

	payout, err := e.Withdraw(context.Background(), u1, tok)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if payout.Cmp(amt(9_950)) != 0 {
		t.Fatalf("expected payout of 10000-2*25, got %s", payout)
	}
	if b := e.poolFor(tok).Balance(u1); b.Sign() != 0 {
		t.Fatalf("expected pool entry removed after withdraw, got %s", b)
	}
	if len(led.transfers) != 2 {
		t.Fatalf("expected 2 ledger transfers (sweep + payout), got %d", len(led.transfers))
	}
}

func TestWithdrawRejectsBalanceBelowFee(t *testing.T) {
	e := newTestEngine(t)
	e.ledger = &scriptedLedger{balance: pool.Zero()}
	e.poolFor(tok).Credit(u1, amt(25)) // exactly the fee, not above it

	if _, err := e.Withdraw(context.Background(), u1, tok); err != apperr.ErrFeeTooHigh {
		t.Fatalf("expected ErrFeeTooHigh, got %v", err)
	}
}

const testDayNanos = uint64(24 * 60 * 60 * 1_000_000_000)

// Daily housekeeping expires stale orders (refunding their reservations)
// and then delists tokens with no activity, no open orders, and no pool
// balance inside the grace window.
func TestHousekeepingExpiresOrdersAndDelistsDormantTokens(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(210))

	if _, err := e.CreateOrder(u1, tok, amt(1), amt(20_000), 1, order.Buy); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := 1 + 181*testDayNanos
	e.Housekeeping(now)

	if n := len(e.Orders(tok, order.Buy)); n != 0 {
		t.Fatalf("expected the 181-day-old order expired, %d remain", n)
	}
	if b := e.poolFor(payToken).Balance(u1); b.Cmp(amt(210)) != 0 {
		t.Fatalf("expected expiry to refund the reservation, got %s", b)
	}
	if e.tokens.Listed(tok) {
		t.Fatalf("expected the dormant token delisted")
	}
	if !e.tokens.Listed(payToken) {
		t.Fatalf("the payment token must never be delisted")
	}
}

func TestPricesReflectLastExecution(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(10_000))
	e.poolFor(tok).Credit(u2, amt(5))

	if len(e.Prices()) != 0 {
		t.Fatalf("expected no prices before any execution")
	}
	if _, err := e.CreateOrder(u1, tok, amt(5), amt(20_000), 1, order.Buy); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Trade(u2, tok, amt(5), amt(0), order.Sell, 2); err != nil {
		t.Fatalf("trade: %v", err)
	}
	price, ok := e.Prices()[tok]
	if !ok || price.Cmp(amt(20_000)) != 0 {
		t.Fatalf("expected last price 20000, got %v ok=%v", price, ok)
	}
}

func TestCreateOrderDuplicateKeyRejected(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(1_000))

	if _, err := e.CreateOrder(u1, tok, amt(1), amt(20_000), 1, order.Buy); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := e.CreateOrder(u1, tok, amt(1), amt(20_000), 1, order.Buy); err != apperr.ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists for a colliding key, got %v", err)
	}
}

func TestCreateOrderUnlistedTokenRejected(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(1_000))

	if _, err := e.CreateOrder(u1, addr(0x33), amt(1), amt(20_000), 1, order.Buy); err != apperr.ErrNotListed {
		t.Fatalf("expected ErrNotListed for an unlisted token, got %v", err)
	}
}

func TestSetRevenueAccountAuthority(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetRevenueAccount(u1, u1); err != nil {
		t.Fatalf("first set should be open: %v", err)
	}
	if err := e.SetRevenueAccount(u2, u2); err != apperr.ErrNotFound {
		t.Fatalf("expected non-revenue caller rejected, got %v", err)
	}
	if err := e.SetRevenueAccount(u1, u2); err != nil {
		t.Fatalf("revenue account must be able to hand off: %v", err)
	}
	acct, ok := e.RevenueAccount()
	if !ok || acct != u2 {
		t.Fatalf("expected revenue account handed to u2, got %x ok=%v", acct, ok)
	}
}
