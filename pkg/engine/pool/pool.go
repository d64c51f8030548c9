// Package pool implements the per-token custodial pool ledger: a
// mapping user -> balance with checked debit/credit primitives.
package pool

import (
	"go.uber.org/zap"
)

// Ledger is a per-token mapping of owner to balance. A missing key is
// equivalent to a zero balance.
type Ledger struct {
	log     *zap.Logger
	token   string // for log context only
	byOwner map[[20]byte]*Amount
}

// New creates an empty ledger for one token.
func New(log *zap.Logger, tokenLabel string) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{log: log, token: tokenLabel, byOwner: make(map[[20]byte]*Amount)}
}

// Credit adds amount to owner's balance. Additions are checked and
// panic on overflow — a panic here means a prior invariant was already
// violated, since legitimate sums never approach 2^127.
func (l *Ledger) Credit(owner [20]byte, amount *Amount) {
	if amount.IsZero() {
		return
	}
	cur, ok := l.byOwner[owner]
	if !ok {
		cur = Zero()
	}
	next := CheckedAdd(cur, amount)
	l.byOwner[owner] = next
	l.log.Debug("pool credit", zap.String("token", l.token), zap.Binary("owner", owner[:]), zap.Stringer("amount", amount), zap.Stringer("balance", next))
}

// Debit subtracts amount from owner's balance, returning
// ErrInsufficientFunds if the balance is too small.
func (l *Ledger) Debit(owner [20]byte, amount *Amount) error {
	if amount.IsZero() {
		return nil
	}
	cur, ok := l.byOwner[owner]
	if !ok {
		cur = Zero()
	}
	next, err := CheckedSub(cur, amount)
	if err != nil {
		return err
	}
	if next.IsZero() {
		delete(l.byOwner, owner)
	} else {
		l.byOwner[owner] = next
	}
	l.log.Debug("pool debit", zap.String("token", l.token), zap.Binary("owner", owner[:]), zap.Stringer("amount", amount))
	return nil
}

// Balance returns owner's balance, or zero if absent.
func (l *Ledger) Balance(owner [20]byte) *Amount {
	if cur, ok := l.byOwner[owner]; ok {
		return cur.Clone()
	}
	return Zero()
}

// Remove deletes owner's entry and returns the balance it held.
func (l *Ledger) Remove(owner [20]byte) *Amount {
	cur, ok := l.byOwner[owner]
	if !ok {
		return Zero()
	}
	delete(l.byOwner, owner)
	return cur
}

// Sum totals every balance in the ledger — used for
// funds-under-management checks.
func (l *Ledger) Sum() *Amount {
	total := Zero()
	for _, v := range l.byOwner {
		total = CheckedAdd(total, v)
	}
	return total
}

// Owners returns every owner with a nonzero balance, for snapshotting.
func (l *Ledger) Owners() [][20]byte {
	out := make([][20]byte, 0, len(l.byOwner))
	for k := range l.byOwner {
		out = append(out, k)
	}
	return out
}
