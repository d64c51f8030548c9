// Package orderbook implements the per-token ordered set of open buy
// and sell orders. Each side is backed by a
// github.com/emirpasic/gods/trees/redblacktree keyed by the total order
// over (price, created_at, amount, owner): insert, remove, and pop-best
// are O(log n) and in-order iteration falls directly out of the tree's
// comparator; membership and exact-key lookup go through a map kept
// beside the tree.
package orderbook

import (
	"fmt"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"

	"github.com/spotbeacon/engine/pkg/engine/order"
)

// Side is an ordered set of open orders all on the same book side. The
// comparator is oriented so that the tree's leftmost (minimum) element is
// always the "best" order for that side — the tree's pop-min thus serves
// as pop-best for both buys and sells.
//
// byKey mirrors the tree's membership, keyed by a canonical string form
// of order.Key, so exact-key lookups can recover the actual stored
// *order.Order (with its real decimals/fee snapshot) rather than
// whatever zero-valued stand-in a caller used to probe for it — the
// tree's own Get only reports membership, not the stored key object.
type Side struct {
	tree  *redblacktree.Tree
	byKey map[string]*order.Order
	side  order.Side
}

func keyString(k order.Key) string {
	return fmt.Sprintf("%s|%d|%s|%x", k.Price.String(), k.CreatedAt, k.Amount.String(), k.Owner)
}

func newSide(s order.Side) *Side {
	cmp := func(a, b interface{}) int {
		ka, kb := a.(*order.Order).Key(), b.(*order.Order).Key()
		// Buys rank by descending price (higher price = better = smaller
		// tree key); sells rank by ascending price, so the best order for
		// either side is always the tree minimum.
		if s == order.Buy {
			if c := kb.Price.Cmp(ka.Price); c != 0 {
				return c
			}
		} else if c := ka.Price.Cmp(kb.Price); c != 0 {
			return c
		}
		if ka.CreatedAt != kb.CreatedAt {
			if ka.CreatedAt < kb.CreatedAt {
				return -1
			}
			return 1
		}
		if c := ka.Amount.Cmp(kb.Amount); c != 0 {
			return c
		}
		for i := 0; i < 20; i++ {
			if ka.Owner[i] != kb.Owner[i] {
				if ka.Owner[i] < kb.Owner[i] {
					return -1
				}
				return 1
			}
		}
		return 0
	}
	return &Side{tree: redblacktree.NewWith(utils.Comparator(cmp)), byKey: make(map[string]*order.Order), side: s}
}

// Insert adds o to the set. Callers must ensure no equal order is
// already present — lifecycle.CreateOrder checks via Contains first.
func (s *Side) Insert(o *order.Order) {
	s.tree.Put(o, struct{}{})
	s.byKey[keyString(o.Key())] = o
}

// Remove deletes o from the set (matched by the total-order key, not
// pointer identity — any *order.Order with an equal key is removed).
func (s *Side) Remove(o *order.Order) {
	s.tree.Remove(o)
	delete(s.byKey, keyString(o.Key()))
}

// Contains reports whether an order with o's key is present.
func (s *Side) Contains(o *order.Order) bool {
	_, found := s.byKey[keyString(o.Key())]
	return found
}

// Get returns the actual stored order matching o's key, if any — the
// order as it was inserted, with its real snapshot fields, regardless
// of what o itself was populated with.
func (s *Side) Get(o *order.Order) (*order.Order, bool) {
	found, ok := s.byKey[keyString(o.Key())]
	return found, ok
}

// PopBest removes and returns the highest-priority order (min price
// for sells, max price for buys; earliest created_at, then smallest
// amount, then smallest owner breaks ties).
func (s *Side) PopBest() (*order.Order, bool) {
	node := s.tree.Left()
	if node == nil {
		return nil, false
	}
	best := node.Key.(*order.Order)
	s.tree.Remove(best)
	delete(s.byKey, keyString(best.Key()))
	return best, true
}

// Len returns the number of open orders resting on this side.
func (s *Side) Len() int { return s.tree.Size() }

// Each iterates every order in book-priority order (best first).
func (s *Side) Each(fn func(*order.Order)) {
	it := s.tree.Iterator()
	for it.Next() {
		fn(it.Key().(*order.Order))
	}
}

// Book is the pair of ordered sets for one token.
type Book struct {
	Buys  *Side
	Sells *Side
}

// New creates an empty book for one token.
func New() *Book {
	return &Book{Buys: newSide(order.Buy), Sells: newSide(order.Sell)}
}

// SideFor returns the book side a given order side belongs to.
func (b *Book) SideFor(s order.Side) *Side {
	if s == order.Buy {
		return b.Buys
	}
	return b.Sells
}

// CounterSide returns the side an incoming trade of side s matches
// against: a Buy consumes Sells, a Sell consumes Buys.
func (b *Book) CounterSide(s order.Side) *Side {
	if s == order.Buy {
		return b.Sells
	}
	return b.Buys
}
