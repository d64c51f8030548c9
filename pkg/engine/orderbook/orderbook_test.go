package orderbook

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/spotbeacon/engine/pkg/engine/order"
)

func mkOrder(side order.Side, price, createdAt, amount uint64, owner byte) *order.Order {
	var o [20]byte
	o[19] = owner
	return &order.Order{
		Side:       side,
		Owner:      o,
		Amount:     uint256.NewInt(amount),
		Price:      uint256.NewInt(price),
		CreatedAt:  createdAt,
		Decimals:   2,
		PaymentFee: uint256.NewInt(10_000),
		TxFeeNumer: 20,
	}
}

func TestBuySidePopsHighestPriceFirst(t *testing.T) {
	book := New()
	low := mkOrder(order.Buy, 1_000_000, 1, 10, 1)
	high := mkOrder(order.Buy, 10_000_000, 2, 10, 2)
	mid := mkOrder(order.Buy, 3_000_000, 3, 10, 3)
	book.Buys.Insert(low)
	book.Buys.Insert(high)
	book.Buys.Insert(mid)

	first, ok := book.Buys.PopBest()
	if !ok || first != high {
		t.Fatalf("expected highest price order first, got %+v", first)
	}
	second, _ := book.Buys.PopBest()
	if second != mid {
		t.Fatalf("expected mid price order second, got %+v", second)
	}
}

func TestSellSidePopsLowestPriceFirst(t *testing.T) {
	book := New()
	low := mkOrder(order.Sell, 1_000_000, 1, 10, 1)
	high := mkOrder(order.Sell, 10_000_000, 2, 10, 2)
	book.Sells.Insert(low)
	book.Sells.Insert(high)

	first, ok := book.Sells.PopBest()
	if !ok || first != low {
		t.Fatalf("expected lowest price order first, got %+v", first)
	}
}

func TestEqualPriceBreaksTieByCreatedAt(t *testing.T) {
	book := New()
	earlier := mkOrder(order.Buy, 5_000_000, 1, 10, 9)
	later := mkOrder(order.Buy, 5_000_000, 2, 10, 1)
	book.Buys.Insert(later)
	book.Buys.Insert(earlier)

	first, _ := book.Buys.PopBest()
	if first != earlier {
		t.Fatalf("expected earliest created_at to win price tie, got %+v", first)
	}
}

func TestContainsAndRemove(t *testing.T) {
	book := New()
	o := mkOrder(order.Sell, 2_000_000, 1, 10, 1)
	book.Sells.Insert(o)
	if !book.Sells.Contains(o) {
		t.Fatal("expected order to be present")
	}
	book.Sells.Remove(o)
	if book.Sells.Contains(o) {
		t.Fatal("expected order to be removed")
	}
	if book.Sells.Len() != 0 {
		t.Fatalf("expected empty side, got len %d", book.Sells.Len())
	}
}
