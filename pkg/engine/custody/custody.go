// Package custody implements the deposit/withdraw protocol coupling
// the engine's pools to an external token ledger. Each operation is
// split into phases around its external calls: the ledger I/O (Sweep,
// Payout) touches no pool state and may run off the engine-owning
// goroutine, while the pool mutations (CommitDeposit, BeginWithdraw,
// RollbackWithdraw) carry the funds-under-management checks and must
// run on it.
package custody

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spotbeacon/engine/pkg/engine/apperr"
	"github.com/spotbeacon/engine/pkg/engine/pool"
	"github.com/spotbeacon/engine/pkg/ledger"
)

// Subaccount derives the 32-byte left-zero-padded ledger
// sub-identifier for a user. The house account has no sub-identifier
// (a zero value is passed as nil/omitted by callers).
func Subaccount(user [20]byte) [32]byte {
	var sub [32]byte
	copy(sub[12:], user[:])
	return sub
}

// Sweep performs the external half of a deposit: read the user's
// ledger balance in their deposit subaccount, net out one transfer
// fee, and pull the remainder into the house account. It touches no
// pool state.
func Sweep(ctx context.Context, log *zap.Logger, led ledger.Ledger, tok [20]byte, fee *pool.Amount, house, user [20]byte) (*pool.Amount, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sub := Subaccount(user)
	w, err := led.BalanceOf(ctx, tok, sub)
	if err != nil {
		log.Error("deposit: balance_of failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", apperr.ErrLedgerCallFailed, err)
	}

	w, underErr := pool.CheckedSub(w, fee)
	if underErr != nil {
		w = pool.Zero()
	}
	if w.IsZero() {
		return pool.Zero(), nil
	}

	if _, err := led.Transfer(ctx, tok, ledger.TransferArgs{
		FromSubaccount: &sub,
		To:             house,
		Amount:         w,
		Fee:            fee,
	}); err != nil {
		log.Error("deposit: transfer failed", zap.Stringer("amount", w), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", apperr.ErrLedgerCallFailed, err)
	}
	return w, nil
}

// CommitDeposit credits a swept amount to the user's pool under an
// invariant check that funds under management increased by exactly w.
func CommitDeposit(p *pool.Ledger, user [20]byte, w *pool.Amount) {
	if w.IsZero() {
		return
	}
	before := p.Sum()
	p.Credit(user, w)
	after := p.Sum()
	want := pool.CheckedAdd(before, w)
	if after.Cmp(want) != 0 {
		panic("custody: deposit violated funds_under_management invariant")
	}
}

// BeginWithdraw removes the user's full pool balance under an
// invariant check, returning both the removed balance (needed for a
// rollback) and the payout net of the ledger fee. Rejects balances
// that would not cover the fee.
func BeginWithdraw(p *pool.Ledger, user [20]byte, fee *pool.Amount) (removed, payout *pool.Amount, err error) {
	bal := p.Balance(user)
	if bal.Cmp(fee) <= 0 {
		return nil, nil, apperr.ErrFeeTooHigh
	}

	before := p.Sum()
	removed = p.Remove(user)
	after := p.Sum()
	want, werr := pool.CheckedSub(before, removed)
	if werr != nil || after.Cmp(want) != 0 {
		panic("custody: withdraw violated funds_under_management invariant")
	}

	payout, werr = pool.CheckedSub(removed, fee)
	if werr != nil {
		panic("custody: withdraw amount smaller than fee after balance check")
	}
	return removed, payout, nil
}

// Payout performs the external ledger transfer of a withdrawal. It
// touches no pool state; on error the caller must run
// RollbackWithdraw.
func Payout(ctx context.Context, log *zap.Logger, led ledger.Ledger, tok [20]byte, fee *pool.Amount, user [20]byte, payout *pool.Amount) error {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := led.Transfer(ctx, tok, ledger.TransferArgs{
		To:     user,
		Amount: payout,
		Fee:    fee,
	}); err != nil {
		log.Error("withdraw: transfer failed, rolling back", zap.Stringer("amount", payout), zap.Error(err))
		return fmt.Errorf("%w: %v", apperr.ErrLedgerCallFailed, err)
	}
	return nil
}

// RollbackWithdraw restores the balance BeginWithdraw removed, so a
// failed payout leaves funds under management exactly as before.
func RollbackWithdraw(p *pool.Ledger, user [20]byte, removed *pool.Amount) {
	p.Credit(user, removed)
}
