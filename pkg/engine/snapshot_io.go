package engine

import (
	"github.com/holiman/uint256"

	"github.com/spotbeacon/engine/pkg/engine/order"
	"github.com/spotbeacon/engine/pkg/engine/pool"
	"github.com/spotbeacon/engine/pkg/engine/snapshot"
	"github.com/spotbeacon/engine/pkg/engine/token"
)

// Snapshot exports the engine's full live state into the wire form
// persisted by pkg/engine/snapshot. Called just before a periodic
// snapshot write.
func (e *Engine) Snapshot() *snapshot.State {
	s := &snapshot.State{
		Books:         make(map[[20]byte]snapshot.BookState, len(e.books)),
		Archives:      make(map[[20]byte][]snapshot.OrderState, len(e.archives)),
		Pools:         make(map[[20]byte]snapshot.PoolState, len(e.pools)),
		Tokens:        make(map[[20]byte]snapshot.TokenState, len(e.tokens.Tokens())),
		RevenueAcct:   e.revenueAcct,
		NextEventID:   e.nextEventID,
		PaymentToken:  e.payment,
		OrderActivity: e.activity.Export(),
	}
	for _, entry := range e.logs {
		s.Logs = append(s.Logs, snapshot.LogEntry{EventID: entry.EventID, Message: entry.Message})
	}
	for tok, book := range e.books {
		var bs snapshot.BookState
		book.Buys.Each(func(o *order.Order) { bs.Buys = append(bs.Buys, orderToState(o)) })
		book.Sells.Each(func(o *order.Order) { bs.Sells = append(bs.Sells, orderToState(o)) })
		s.Books[tok] = bs
	}
	for tok, arc := range e.archives {
		for _, o := range arc.All() {
			s.Archives[tok] = append(s.Archives[tok], orderToState(o))
		}
	}
	for tok, p := range e.pools {
		ps := snapshot.PoolState{Balances: make(map[[20]byte][]byte)}
		for _, owner := range p.Owners() {
			ps.Balances[owner] = p.Balance(owner).Bytes()
		}
		s.Pools[tok] = ps
	}
	for _, tok := range e.tokens.Tokens() {
		meta, _ := e.tokens.Get(tok)
		s.Tokens[tok] = snapshot.TokenState{
			Symbol:                meta.Symbol,
			Fee:                   meta.Fee.Bytes(),
			Decimals:              meta.Decimals,
			Logo:                  meta.Logo,
			LastActivityTimestamp: meta.LastActivityTimestamp,
		}
	}
	return s
}

// Restore replaces the engine's live state with a previously exported
// snapshot. It must only be called right after New, before any command
// is served.
func (e *Engine) Restore(s *snapshot.State) {
	e.revenueAcct = s.RevenueAcct
	e.nextEventID = s.NextEventID
	if s.PaymentToken != ([20]byte{}) {
		e.payment = s.PaymentToken
	}
	e.activity.Import(s.OrderActivity)

	for _, entry := range s.Logs {
		e.logs = append(e.logs, LogEntry{EventID: entry.EventID, Message: entry.Message})
	}
	for tok, meta := range s.Tokens {
		e.tokens.Set(tok, &token.Metadata{
			Symbol:                meta.Symbol,
			Fee:                   bytesToAmount(meta.Fee),
			Decimals:              meta.Decimals,
			Logo:                  meta.Logo,
			LastActivityTimestamp: meta.LastActivityTimestamp,
		})
	}
	for tok, ps := range s.Pools {
		p := e.poolFor(tok)
		for owner, raw := range ps.Balances {
			p.Credit(owner, bytesToAmount(raw))
		}
	}
	for tok, bs := range s.Books {
		book := e.bookFor(tok)
		for _, os := range bs.Buys {
			book.Buys.Insert(orderFromState(os))
		}
		for _, os := range bs.Sells {
			book.Sells.Insert(orderFromState(os))
		}
	}
	for tok, entries := range s.Archives {
		arc := e.archiveFor(tok)
		for i := len(entries) - 1; i >= 0; i-- {
			arc.PushFront(orderFromState(entries[i]))
		}
	}
}

func orderToState(o *order.Order) snapshot.OrderState {
	return snapshot.OrderState{
		Side:       uint8(o.Side),
		Owner:      o.Owner,
		Amount:     o.Amount.Bytes(),
		Price:      o.Price.Bytes(),
		CreatedAt:  o.CreatedAt,
		ExecutedAt: o.ExecutedAt,
		Decimals:   o.Decimals,
		PaymentFee: o.PaymentFee.Bytes(),
		TxFeeNumer: o.TxFeeNumer,
	}
}

func orderFromState(s snapshot.OrderState) *order.Order {
	return &order.Order{
		Side:       order.Side(s.Side),
		Owner:      s.Owner,
		Amount:     bytesToAmount(s.Amount),
		Price:      bytesToAmount(s.Price),
		CreatedAt:  s.CreatedAt,
		ExecutedAt: s.ExecutedAt,
		Decimals:   s.Decimals,
		PaymentFee: bytesToAmount(s.PaymentFee),
		TxFeeNumer: s.TxFeeNumer,
	}
}

func bytesToAmount(b []byte) *pool.Amount { return new(uint256.Int).SetBytes(b) }
