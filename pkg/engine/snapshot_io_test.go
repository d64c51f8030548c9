package engine

import (
	"testing"

	"github.com/spotbeacon/engine/pkg/engine/order"
	"github.com/spotbeacon/engine/pkg/engine/snapshot"
)

// TestSnapshotRestoreRoundTrip writes a live engine's state through the
// CBOR snapshot codec and an in-memory store, restores it into a fresh
// engine, and checks that books, pools, and token metadata all survive
// the round trip byte-for-byte equivalent.
func TestSnapshotRestoreRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	e.poolFor(payToken).Credit(u1, amt(1_000_000))
	e.poolFor(tok).Credit(u2, amt(50))

	if _, err := e.CreateOrder(u1, tok, amt(7), amt(20_000), 1, order.Buy); err != nil {
		t.Fatalf("create buy: %v", err)
	}
	if _, err := e.CreateOrder(u2, tok, amt(5), amt(30_000), 2, order.Sell); err != nil {
		t.Fatalf("create sell: %v", err)
	}

	mem := snapshot.NewInMemory()
	if err := snapshot.Write(mem, e.Snapshot()); err != nil {
		t.Fatalf("write: %v", err)
	}

	restored, err := snapshot.Read(mem)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	fresh := New(nil, nil, addr(0xFF), payToken)
	fresh.Restore(restored)

	if b := fresh.poolFor(payToken).Balance(u1); b.Cmp(e.poolFor(payToken).Balance(u1)) != 0 {
		t.Fatalf("expected u1's remaining payment balance preserved, got %s want %s", b, e.poolFor(payToken).Balance(u1))
	}
	if b := fresh.poolFor(tok).Balance(u2); b.Cmp(e.poolFor(tok).Balance(u2)) != 0 {
		t.Fatalf("expected u2's token balance preserved, got %s want %s", b, e.poolFor(tok).Balance(u2))
	}

	buys := fresh.Orders(tok, order.Buy)
	if len(buys) != 1 || buys[0].Amount.Cmp(amt(7)) != 0 || buys[0].Price.Cmp(amt(20_000)) != 0 {
		t.Fatalf("expected the resting buy to survive restore, got %+v", buys)
	}
	sells := fresh.Orders(tok, order.Sell)
	if len(sells) != 1 || sells[0].Amount.Cmp(amt(5)) != 0 {
		t.Fatalf("expected the resting sell to survive restore, got %+v", sells)
	}

	meta, ok := fresh.tokens.Get(tok)
	if !ok || meta.Symbol != "TOK" || meta.Decimals != 2 {
		t.Fatalf("expected token metadata preserved, got %+v ok=%v", meta, ok)
	}
}
