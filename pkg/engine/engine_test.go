package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/spotbeacon/engine/pkg/engine/apperr"
	"github.com/spotbeacon/engine/pkg/engine/order"
	"github.com/spotbeacon/engine/pkg/engine/pool"
	"github.com/spotbeacon/engine/pkg/engine/token"
	"github.com/spotbeacon/engine/pkg/ledger"
)

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func amt(v uint64) *pool.Amount { return uint256.NewInt(v) }

var (
	payToken = addr(0xEE)
	tok      = addr(0x01)
	u1       = addr(0x11)
	u2       = addr(0x22)
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(nil, nil, addr(0xFF), payToken)
	e.tokens.Set(payToken, &token.Metadata{Symbol: "PAY", Fee: amt(10_000), Decimals: 8})
	e.tokens.Set(tok, &token.Metadata{Symbol: "TOK", Fee: amt(25), Decimals: 2})
	return e
}

// Scenario 1: simplest sell against one buy.
func TestScenarioSimpleSellAgainstBuy(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(210))

	_, err := e.CreateOrder(u1, tok, amt(1), amt(20_000), 1, order.Buy)
	if err != nil {
		t.Fatalf("create buy: %v", err)
	}

	e.poolFor(tok).Credit(u2, amt(1))
	res, err := e.Trade(u2, tok, amt(1), amt(0), order.Sell, 2)
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if res.Filled.Cmp(amt(1)) != 0 {
		t.Fatalf("expected filled=1, got %s", res.Filled)
	}
	if res.RestOrderCreated {
		t.Fatalf("market order must never rest")
	}

	if b := e.poolFor(tok).Balance(u1); b.Cmp(amt(1)) != 0 {
		t.Fatalf("u1 should now hold 1 tok, got %s", b)
	}
	volume := uint64(20_000) * 1 / 100 // amount*price/10^decimals = 1*20000/100 = 200
	fee := max64(1, volume*20/10_000)
	want := volume - fee
	if b := e.poolFor(payToken).Balance(u2); b.Cmp(amt(want)) != 0 {
		t.Fatalf("u2 should hold %d payment, got %s", want, b)
	}
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// Scenario 2: partial buy with leftover rests a new order.
func TestScenarioPartialBuyWithLeftover(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(tok).Credit(u1, amt(7))
	if _, err := e.CreateOrder(u1, tok, amt(7), amt(5_000_000), 1, order.Sell); err != nil {
		t.Fatalf("create sell: %v", err)
	}

	e.poolFor(payToken).Credit(u2, amt(12*5*100_000))
	res, err := e.Trade(u2, tok, amt(50), amt(6_000_000), order.Buy, 2)
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if res.Filled.Cmp(amt(7)) != 0 {
		t.Fatalf("expected filled=7, got %s", res.Filled)
	}
	if !res.RestOrderCreated {
		t.Fatalf("expected a rest order for the remaining 43")
	}
	if res.RestOrder.Amount.Cmp(amt(43)) != 0 {
		t.Fatalf("expected rest amount=43, got %s", res.RestOrder.Amount)
	}
	if res.RestOrder.Price.Cmp(amt(6_000_000)) != 0 {
		t.Fatalf("expected rest price=6_000_000, got %s", res.RestOrder.Price)
	}
}

// Scenario 3: limit-gated sell stops at the third-best buy.
func TestScenarioLimitGatedSellStopsAtThirdBest(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(1_000_000_000))
	// three buys at 10M, 3M, 1M, each large enough to afford reservation.
	if _, err := e.CreateOrder(u1, tok, amt(7), amt(10_000_000), 1, order.Buy); err != nil {
		t.Fatalf("buy1: %v", err)
	}
	if _, err := e.CreateOrder(u1, tok, amt(16), amt(3_000_000), 2, order.Buy); err != nil {
		t.Fatalf("buy2: %v", err)
	}
	if _, err := e.CreateOrder(u1, tok, amt(100), amt(1_000_000), 3, order.Buy); err != nil {
		t.Fatalf("buy3: %v", err)
	}

	e.poolFor(tok).Credit(u2, amt(250))
	res, err := e.Trade(u2, tok, amt(50), amt(2_000_000), order.Sell, 4)
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if res.Filled.Cmp(amt(23)) != 0 {
		t.Fatalf("expected filled=23 (7+16), got %s", res.Filled)
	}
	// the 1M buy must remain resting, untouched by the gated sell.
	open := e.Orders(tok, order.Buy)
	if len(open) != 1 || open[0].Price.Cmp(amt(1_000_000)) != 0 {
		t.Fatalf("expected only the 1M buy left resting, got %+v", open)
	}
}

// Scenario 4: cancel restores the exact reservation.
func TestScenarioCancelRestoresReservation(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(210))

	if _, err := e.CreateOrder(u1, tok, amt(1), amt(20_000), 1, order.Buy); err != nil {
		t.Fatalf("create: %v", err)
	}
	// reservation = volume (1*20000/100 = 200) + trading fee (max(1, 200*20/10000) = 1) = 201
	if b := e.poolFor(payToken).Balance(u1); b.Cmp(amt(9)) != 0 {
		t.Fatalf("expected reservation of 201 to leave 9, got %s left", b)
	}
	if err := e.CloseOrder(u1, tok, amt(1), amt(20_000), 1, order.Buy); err != nil {
		t.Fatalf("close: %v", err)
	}
	if b := e.poolFor(payToken).Balance(u1); b.Cmp(amt(210)) != 0 {
		t.Fatalf("expected balance restored to 210, got %s", b)
	}
}

// Scenario 5: relisting with a changed fee cancels every open order.
func TestScenarioRelistWithChangedFeeCancelsAll(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(210))
	e.poolFor(tok).Credit(u2, amt(5))

	if _, err := e.CreateOrder(u1, tok, amt(1), amt(20_000), 1, order.Buy); err != nil {
		t.Fatalf("create buy: %v", err)
	}
	if _, err := e.CreateOrder(u2, tok, amt(5), amt(15_000), 2, order.Sell); err != nil {
		t.Fatalf("create sell: %v", err)
	}

	err := e.ListToken(context.Background(), u1, tok, token.Metadata{Symbol: "TOK", Fee: amt(999), Decimals: 2}, amt(0), 3)
	if err != nil {
		t.Fatalf("relist: %v", err)
	}

	if n := len(e.Orders(tok, order.Buy)) + len(e.Orders(tok, order.Sell)); n != 0 {
		t.Fatalf("expected relisting to cancel every open order, %d remain", n)
	}
	if b := e.poolFor(payToken).Balance(u1); b.Cmp(amt(210)) != 0 {
		t.Fatalf("expected u1's reservation refunded, got %s", b)
	}
	if b := e.poolFor(tok).Balance(u2); b.Cmp(amt(5)) != 0 {
		t.Fatalf("expected u2's reservation refunded, got %s", b)
	}
}

// Scenario 6: a failed withdrawal transfer rolls the pool back exactly.
func TestScenarioWithdrawFailureRollsBack(t *testing.T) {
	e := newTestEngine(t)
	e.ledger = failingLedger{}
	e.poolFor(tok).Credit(u1, amt(1_000))

	_, err := e.Withdraw(context.Background(), u1, tok)
	if err == nil {
		t.Fatalf("expected withdraw to fail")
	}
	if b := e.poolFor(tok).Balance(u1); b.Cmp(amt(1_000)) != 0 {
		t.Fatalf("expected balance unchanged at 1000 after rollback, got %s", b)
	}
}

type failingLedger struct{}

func (failingLedger) BalanceOf(context.Context, [20]byte, [32]byte) (*pool.Amount, error) {
	return pool.Zero(), nil
}

func (failingLedger) Transfer(context.Context, [20]byte, ledger.TransferArgs) (uint64, error) {
	return 0, errTransferFailed
}

func (failingLedger) Metadata(context.Context, [20]byte) (ledger.Metadata, error) {
	return ledger.Metadata{}, errTransferFailed
}

var errTransferFailed = errors.New("simulated ledger transfer failure")

func TestCreateOrderRejectsZeroPrice(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(1_000))
	_, err := e.CreateOrder(u1, tok, amt(1), amt(0), 1, order.Buy)
	if err != apperr.ErrInvalidPrice {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestCreateOrderRejectsDust(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(1_000_000))
	// amount*price/10^decimals must be tiny enough that trading_fee*10 > volume.
	_, err := e.CreateOrder(u1, tok, amt(1), amt(1), 1, order.Buy)
	if err != apperr.ErrOrderTooSmall {
		t.Fatalf("expected ErrOrderTooSmall, got %v", err)
	}
}

func TestRateLimitAfterFifteenOrders(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(1_000_000_000))
	for i := uint64(1); i <= MaxOrdersPerHour; i++ {
		if _, err := e.CreateOrder(u1, tok, amt(1), amt(20_000), i, order.Buy); err != nil {
			t.Fatalf("order %d: unexpected error %v", i, err)
		}
		if err := e.CloseOrder(u1, tok, amt(1), amt(20_000), i, order.Buy); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
	_, err := e.CreateOrder(u1, tok, amt(1), amt(20_000), MaxOrdersPerHour+1, order.Buy)
	if err != apperr.ErrRateLimited {
		t.Fatalf("expected ErrRateLimited on the 16th order, got %v", err)
	}
}

func TestFundsUnderManagementUnchangedAcrossCreateAndClose(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(210))
	before := e.FundsUnderManagement(payToken)

	if _, err := e.CreateOrder(u1, tok, amt(1), amt(20_000), 1, order.Buy); err != nil {
		t.Fatalf("create: %v", err)
	}
	mid := e.FundsUnderManagement(payToken)
	if mid.Cmp(before) != 0 {
		t.Fatalf("funds under management changed on create: before=%s after=%s", before, mid)
	}

	if err := e.CloseOrder(u1, tok, amt(1), amt(20_000), 1, order.Buy); err != nil {
		t.Fatalf("close: %v", err)
	}
	after := e.FundsUnderManagement(payToken)
	if after.Cmp(before) != 0 {
		t.Fatalf("funds under management changed on close: before=%s after=%s", before, after)
	}
}
