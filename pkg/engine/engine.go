package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spotbeacon/engine/pkg/engine/activity"
	"github.com/spotbeacon/engine/pkg/engine/apperr"
	"github.com/spotbeacon/engine/pkg/engine/archive"
	"github.com/spotbeacon/engine/pkg/engine/custody"
	"github.com/spotbeacon/engine/pkg/engine/lifecycle"
	"github.com/spotbeacon/engine/pkg/engine/matching"
	"github.com/spotbeacon/engine/pkg/engine/order"
	"github.com/spotbeacon/engine/pkg/engine/orderbook"
	"github.com/spotbeacon/engine/pkg/engine/pool"
	"github.com/spotbeacon/engine/pkg/engine/settlement"
	"github.com/spotbeacon/engine/pkg/engine/token"
	"github.com/spotbeacon/engine/pkg/ledger"
)

// maxBulkChunk bounds how many orders a single bulk cancellation pass
// will touch, keeping each cycle bounded.
const maxBulkChunk = 10_000

// maxLogEntries is the log trim target in daily housekeeping.
const maxLogEntries = 10_000

// LogEntry is one bounded, front-push engine event record.
type LogEntry struct {
	EventID uint64
	Message string
}

// Engine is the single-actor custodial exchange: one owner of all
// pool/book/archive/token state, keyed by token, exposing the
// authoritative operations as methods.
type Engine struct {
	log *zap.Logger

	ledger  ledger.Ledger
	house   [20]byte
	payment [20]byte

	books    map[[20]byte]*orderbook.Book
	archives map[[20]byte]*archive.Archive
	pools    map[[20]byte]*pool.Ledger
	tokens   *token.Registry
	activity *activity.Log

	revenueAcct *[20]byte
	nextEventID uint64
	logs        []LogEntry
}

// New creates an empty engine. payment is the designated payment token;
// house is the custody account every deposit/withdraw routes through.
func New(log *zap.Logger, led ledger.Ledger, house, payment [20]byte) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		log:      log,
		ledger:   led,
		house:    house,
		payment:  payment,
		books:    make(map[[20]byte]*orderbook.Book),
		archives: make(map[[20]byte]*archive.Archive),
		pools:    make(map[[20]byte]*pool.Ledger),
		tokens:   token.New(),
		activity: activity.New(MaxOrdersPerHour),
	}
}

func (e *Engine) poolFor(tok [20]byte) *pool.Ledger {
	p, ok := e.pools[tok]
	if !ok {
		p = pool.New(e.log, fmt.Sprintf("%x", tok))
		e.pools[tok] = p
	}
	return p
}

func (e *Engine) bookFor(tok [20]byte) *orderbook.Book {
	b, ok := e.books[tok]
	if !ok {
		b = orderbook.New()
		e.books[tok] = b
	}
	return b
}

func (e *Engine) archiveFor(tok [20]byte) *archive.Archive {
	a, ok := e.archives[tok]
	if !ok {
		a = archive.New()
		e.archives[tok] = a
	}
	return a
}

// appendLog records an event at the front of the bounded log. The
// engine runs single-threaded between suspension points, so
// nextEventID needs no synchronization.
func (e *Engine) appendLog(format string, args ...interface{}) {
	e.nextEventID++
	e.logs = append([]LogEntry{{EventID: e.nextEventID, Message: fmt.Sprintf(format, args...)}}, e.logs...)
}

// ListToken records (or re-records) a token's metadata and debits the
// listing fee from the caller's payment pool. The caller must already
// have credited the fee to their own payment pool, and passes it in
// pre-computed (via pkg/oracle against the live USD rate, since it
// depends on the payment token's current decimals/fee snapshot).
// Relisting with a changed fee or decimals cancels every open order in
// the token's book: those values are snapshotted into each order, and a
// change would make the resting ones meaningless.
func (e *Engine) ListToken(ctx context.Context, caller [20]byte, tok [20]byte, meta token.Metadata, listingFee *pool.Amount, ts uint64) error {
	prev, wasListed := e.tokens.Get(tok)
	if wasListed && (prev.Fee.Cmp(meta.Fee) != 0 || prev.Decimals != meta.Decimals) {
		e.cancelAllForToken(tok)
	}
	meta.LastActivityTimestamp = ts
	e.tokens.Set(tok, &meta)
	_ = e.poolFor(tok)

	payPool := e.poolFor(e.payment)
	if err := payPool.Debit(caller, listingFee); err != nil {
		return err
	}
	var rev [20]byte
	if e.revenueAcct != nil {
		rev = *e.revenueAcct
	}
	payPool.Credit(rev, listingFee)
	e.appendLog("token %x listed at %d", tok, ts)
	return nil
}

// VerifyListing cross-checks a token's metadata against the external
// ledger before it is listed, rather than trusting a caller's
// self-reported symbol/fee/decimals outright. If no ledger is wired
// (e.g. in tests or a bootstrap environment), fallback is returned
// unchanged.
func (e *Engine) VerifyListing(ctx context.Context, tok [20]byte, fallback token.Metadata) (token.Metadata, error) {
	if e.ledger == nil {
		return fallback, nil
	}
	m, err := e.ledger.Metadata(ctx, tok)
	if err != nil {
		return token.Metadata{}, fmt.Errorf("%w: %v", apperr.ErrLedgerCallFailed, err)
	}
	if m.Symbol == "" || m.Fee == nil || m.Decimals == 0 {
		return token.Metadata{}, apperr.ErrMetadataIncomplete
	}
	return token.Metadata{
		Symbol: m.Symbol, Fee: m.Fee, Decimals: m.Decimals, Logo: m.Logo,
		LastActivityTimestamp: fallback.LastActivityTimestamp,
	}, nil
}

func (e *Engine) cancelAllForToken(tok [20]byte) {
	book := e.bookFor(tok)
	lifecycle.CloseByCondition(book, e.poolFor(e.payment), e.poolFor(tok), func(*order.Order) bool { return true }, maxBulkChunk)
}

// TokenFee returns the ledger transfer-fee snapshot for a listed
// token. Read-only; callers dispatching custody phases use it to
// parameterize the external calls.
func (e *Engine) TokenFee(tok [20]byte) (*pool.Amount, error) {
	meta, ok := e.tokens.Get(tok)
	if !ok {
		return nil, apperr.ErrNotListed
	}
	return meta.Fee.Clone(), nil
}

// CommitDeposit credits a swept deposit to the user's pool. The sweep
// itself (custody.Sweep) is ledger I/O and runs off the owner
// goroutine; this is the mutation phase.
func (e *Engine) CommitDeposit(user, tok [20]byte, w *pool.Amount) {
	custody.CommitDeposit(e.poolFor(tok), user, w)
}

// BeginWithdraw removes the user's full pool balance, returning the
// removed balance (needed for a rollback) and the payout net of the
// ledger fee. The transfer itself (custody.Payout) runs off the owner
// goroutine.
func (e *Engine) BeginWithdraw(user, tok [20]byte) (removed, payout *pool.Amount, err error) {
	meta, ok := e.tokens.Get(tok)
	if !ok {
		return nil, nil, apperr.ErrNotListed
	}
	return custody.BeginWithdraw(e.poolFor(tok), user, meta.Fee)
}

// RollbackWithdraw restores a removed balance after a failed payout.
func (e *Engine) RollbackWithdraw(user, tok [20]byte, removed *pool.Amount) {
	custody.RollbackWithdraw(e.poolFor(tok), user, removed)
}

// DepositLiquidity sweeps the user's subaccount balance on the
// external ledger into the house account and credits their pool. It
// composes the custody phases inline, for callers that already own the
// engine's goroutine for the whole call (tests, single-threaded
// embedders); concurrent hosts dispatch the phases separately the way
// pkg/api does.
func (e *Engine) DepositLiquidity(ctx context.Context, user, tok [20]byte) (*pool.Amount, error) {
	fee, err := e.TokenFee(tok)
	if err != nil {
		return nil, err
	}
	w, err := custody.Sweep(ctx, e.log, e.ledger, tok, fee, e.house, user)
	if err != nil {
		return nil, err
	}
	e.CommitDeposit(user, tok, w)
	return w, nil
}

// Withdraw pays the user's full pool balance back out through the
// external ledger, rolling the pool back if the transfer fails. Like
// DepositLiquidity, this is the inline composition of the custody
// phases.
func (e *Engine) Withdraw(ctx context.Context, user, tok [20]byte) (*pool.Amount, error) {
	fee, err := e.TokenFee(tok)
	if err != nil {
		return nil, err
	}
	removed, payout, err := e.BeginWithdraw(user, tok)
	if err != nil {
		return nil, err
	}
	if err := custody.Payout(ctx, e.log, e.ledger, tok, fee, user, payout); err != nil {
		e.RollbackWithdraw(user, tok, removed)
		return nil, err
	}
	return payout, nil
}

// CreateOrder validates and books a new open order, reserving its
// liquidity from the proper pool.
func (e *Engine) CreateOrder(user, tok [20]byte, amount, price *pool.Amount, ts uint64, side order.Side) (*order.Order, error) {
	reservingTok := e.payment
	if side == order.Sell {
		reservingTok = tok
	}
	c := lifecycle.Context{
		Log: e.log, Book: e.bookFor(tok), ReservingPool: e.poolFor(reservingTok),
		Activity: e.activity, Registry: e.tokens, PaymentToken: e.payment, Token: tok,
		TxFee: uint64(TxFeeNumerator),
	}
	return lifecycle.CreateOrder(c, user, amount, price, ts, side)
}

// CloseOrder cancels an open order by exact key and refunds its
// reservation.
func (e *Engine) CloseOrder(user, tok [20]byte, amount, price *pool.Amount, ts uint64, side order.Side) error {
	reservingTok := e.payment
	if side == order.Sell {
		reservingTok = tok
	}
	c := lifecycle.Context{
		Log: e.log, Book: e.bookFor(tok), ReservingPool: e.poolFor(reservingTok),
		Activity: e.activity, Registry: e.tokens, PaymentToken: e.payment, Token: tok,
	}
	return lifecycle.CloseOrder(c, user, amount, price, ts, side)
}

// CloseAllOrders is the revenue-account-only emergency cancel-all.
func (e *Engine) CloseAllOrders(caller [20]byte) error {
	if e.revenueAcct == nil || *e.revenueAcct != caller {
		return apperr.ErrNotFound
	}
	for tok := range e.books {
		e.cancelAllForToken(tok)
	}
	return nil
}

// SetRevenueAccount sets the revenue account once; thereafter only the
// revenue account itself may change it.
func (e *Engine) SetRevenueAccount(caller, next [20]byte) error {
	if e.revenueAcct != nil && *e.revenueAcct != caller {
		return apperr.ErrNotFound
	}
	e.revenueAcct = &next
	return nil
}

// TradeResult is the public outcome of Trade: what was filled, and
// whether the unfilled remainder rested as a new open order.
type TradeResult struct {
	Filled           *pool.Amount
	RestOrderCreated bool
	RestOrder        *order.Order
}

// Trade matches against the token's book, then rests any unfilled
// remainder as a new open order when a limit price was given.
// price == 0 is a market order (no limit gate, never rests a remainder).
func (e *Engine) Trade(trader, tok [20]byte, amount, price *pool.Amount, side order.Side, now uint64) (TradeResult, error) {
	book, hasBook := e.books[tok]
	if !hasBook {
		return TradeResult{Filled: pool.Zero()}, nil
	}
	meta, ok := e.tokens.Get(tok)
	if !ok {
		return TradeResult{}, apperr.ErrNotListed
	}
	payMeta, ok := e.tokens.Get(e.payment)
	if !ok {
		return TradeResult{}, apperr.ErrNotListed
	}

	var limitPrice *pool.Amount
	if !price.IsZero() {
		limitPrice = price
	}

	f := settlement.Fill{TokenPool: e.poolFor(tok), PaymentPool: e.poolFor(e.payment)}
	if e.revenueAcct != nil {
		f.RevenueAcct = *e.revenueAcct
	}

	res := matching.Trade(e.log, book, e.archiveFor(tok), f, trader, side, amount, limitPrice,
		now, meta.Decimals, payMeta.Fee, uint64(TxFeeNumerator))

	if res.RestOrderCreated {
		reservingPool := e.poolFor(e.payment)
		if side == order.Sell {
			reservingPool = e.poolFor(tok)
		}
		// Debit before insert: the fills above already settled and stand
		// either way, but an order may only rest once its reservation is
		// held.
		if err := reservingPool.Debit(trader, res.RestOrder.ReservedLiquidity()); err != nil {
			return TradeResult{Filled: res.Filled}, err
		}
		book.SideFor(side).Insert(res.RestOrder)
	}

	if res.Filled.Sign() > 0 {
		e.appendLog("trade %s %s of %x filled %s", side.String(), amount.String(), tok, res.Filled.String())
	}

	return TradeResult{Filled: res.Filled, RestOrderCreated: res.RestOrderCreated, RestOrder: res.RestOrder}, nil
}

// ExpireOrders closes every order older than OrderExpirationDays
// across every token.
func (e *Engine) ExpireOrders(now uint64) int {
	total := 0
	window := uint64(ExpirationWindowNanos())
	for tok, book := range e.books {
		total += lifecycle.ExpireOrders(book, e.poolFor(e.payment), e.poolFor(tok), now, window, maxBulkChunk)
	}
	return total
}

// Housekeeping runs the daily cleanup: trim logs, drop stale archive
// entries, expire orders, delist dormant tokens.
func (e *Engine) Housekeeping(now uint64) {
	if len(e.logs) > maxLogEntries {
		e.logs = e.logs[:maxLogEntries]
	}
	delistCutoff := uint64(DelistWindowNanos())
	if now > delistCutoff {
		for _, arc := range e.archives {
			arc.TrimOlderThan(now - delistCutoff)
		}
	}
	e.ExpireOrders(now)
	for _, tok := range e.tokens.Tokens() {
		if tok == e.payment {
			continue
		}
		meta, ok := e.tokens.Get(tok)
		if !ok || now <= meta.LastActivityTimestamp+delistCutoff {
			continue
		}
		book := e.bookFor(tok)
		if book.Buys.Len() > 0 || book.Sells.Len() > 0 {
			continue
		}
		if e.poolFor(tok).Sum().Sign() > 0 {
			continue
		}
		e.tokens.Delist(tok)
	}
}

// PaymentToken returns the designated payment token id.
func (e *Engine) PaymentToken() [20]byte { return e.payment }

// House returns the custody account deposits sweep into. Immutable
// after New.
func (e *Engine) House() [20]byte { return e.house }

// ExternalLedger returns the token ledger the engine was built with.
// Immutable after New; safe to use from any goroutine.
func (e *Engine) ExternalLedger() ledger.Ledger { return e.ledger }

// Tokens returns every listed token id.
func (e *Engine) Tokens() [][20]byte { return e.tokens.Tokens() }

// Token returns a listed token's metadata.
func (e *Engine) Token(tok [20]byte) (*token.Metadata, bool) { return e.tokens.Get(tok) }

// TokenBalances returns every balance a user holds across listed
// tokens.
func (e *Engine) TokenBalances(user [20]byte) map[[20]byte]*pool.Amount {
	out := make(map[[20]byte]*pool.Amount)
	for tok, p := range e.pools {
		bal := p.Balance(user)
		if bal.Sign() > 0 {
			out[tok] = bal
		}
	}
	return out
}

// Orders returns every open order on one side of a token's book, best
// first.
func (e *Engine) Orders(tok [20]byte, side order.Side) []*order.Order {
	book, ok := e.books[tok]
	if !ok {
		return nil
	}
	var out []*order.Order
	book.SideFor(side).Each(func(o *order.Order) { out = append(out, o) })
	return out
}

// ExecutedOrders returns a token's archive, newest first.
func (e *Engine) ExecutedOrders(tok [20]byte) []*order.Order {
	arc, ok := e.archives[tok]
	if !ok {
		return nil
	}
	return arc.All()
}

// Logs returns the bounded engine event log, newest first.
func (e *Engine) Logs() []LogEntry { return e.logs }

// Prices returns each token's most recent execution price, taken from
// the newest archive entry. Tokens that have never traded are absent.
func (e *Engine) Prices() map[[20]byte]*pool.Amount {
	out := make(map[[20]byte]*pool.Amount)
	for tok, arc := range e.archives {
		all := arc.All()
		if len(all) > 0 {
			out[tok] = all[0].Price.Clone()
		}
	}
	return out
}

// RevenueAccount returns the configured revenue account, if any.
func (e *Engine) RevenueAccount() ([20]byte, bool) {
	if e.revenueAcct == nil {
		return [20]byte{}, false
	}
	return *e.revenueAcct, true
}

// PoolBalances returns every owner's balance in one token's pool.
func (e *Engine) PoolBalances(tok [20]byte) map[[20]byte]*pool.Amount {
	p, ok := e.pools[tok]
	if !ok {
		return nil
	}
	out := make(map[[20]byte]*pool.Amount)
	for _, owner := range p.Owners() {
		out[owner] = p.Balance(owner)
	}
	return out
}

// FundsUnderManagement totals everything custodied for one token: the
// sum of every pool balance plus every reservation still held against
// open orders of that token (payment-token reservations come from every
// open buy across every book; any other token's reservations come from
// open sells in that token's own book).
func (e *Engine) FundsUnderManagement(tok [20]byte) *pool.Amount {
	total := e.poolFor(tok).Sum()
	if tok == e.payment {
		for _, book := range e.books {
			book.Buys.Each(func(o *order.Order) {
				total = pool.CheckedAdd(total, o.ReservedLiquidity())
			})
		}
		return total
	}
	if book, ok := e.books[tok]; ok {
		book.Sells.Each(func(o *order.Order) {
			total = pool.CheckedAdd(total, o.ReservedLiquidity())
		})
	}
	return total
}
