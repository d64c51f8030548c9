// Package api exposes the engine's authoritative operations over REST
// and pushes book/trade updates over WebSocket: a mux router behind
// cors, plus a gorilla/websocket hub with per-channel subscriptions.
//
// The engine has no internal locking: every read and write of it is
// funneled through a Dispatch onto the one goroutine that owns it.
// Handlers only parse, dispatch, and respond; the ledger and oracle
// calls a request needs happen on the handler goroutine, between
// dispatched phases, so external I/O never stalls the engine loop.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spotbeacon/engine/pkg/engine"
	"github.com/spotbeacon/engine/pkg/engine/custody"
	"github.com/spotbeacon/engine/pkg/engine/order"
	"github.com/spotbeacon/engine/pkg/engine/pool"
	"github.com/spotbeacon/engine/pkg/engine/token"
	"github.com/spotbeacon/engine/pkg/oracle"
)

// Dispatch schedules fn onto the goroutine that owns the engine and
// blocks until fn has run. cmd/exchanged backs it with the command
// channel its main loop drains.
type Dispatch func(fn func())

// Server handles REST API and WebSocket connections over one Engine.
type Server struct {
	eng      *engine.Engine
	rates    oracle.RateOracle
	dispatch Dispatch
	router   *mux.Router
	hub      *Hub
	log      *zap.Logger
}

// NewServer creates a new API server over eng. dispatch serializes
// every engine access onto the owner goroutine; a nil dispatch runs
// closures inline, for single-threaded use in tests. rates prices the
// listing fee against the live USD rate; it may be nil if list_token
// will never be called.
func NewServer(eng *engine.Engine, rates oracle.RateOracle, dispatch Dispatch, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{eng: eng, rates: rates, dispatch: dispatch, router: mux.NewRouter(), hub: NewHub(log), log: log}
	s.setupRoutes()
	return s
}

// run executes fn on the engine-owning goroutine and waits for it.
func (s *Server) run(fn func()) {
	if s.dispatch == nil {
		fn()
		return
	}
	s.dispatch(fn)
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/tokens", s.handleListTokens).Methods("GET")
	api.HandleFunc("/tokens", s.handleListToken).Methods("POST")
	api.HandleFunc("/tokens/{token}", s.handleGetToken).Methods("GET")
	api.HandleFunc("/tokens/{token}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/tokens/{token}/trades", s.handleGetExecutedOrders).Methods("GET")

	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")

	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders/close", s.handleCloseOrder).Methods("POST")
	api.HandleFunc("/orders/close-all", s.handleCloseAllOrders).Methods("POST")

	api.HandleFunc("/trade", s.handleTrade).Methods("POST")

	api.HandleFunc("/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdraw", s.handleWithdraw).Methods("POST")

	api.HandleFunc("/revenue-account", s.handleSetRevenueAccount).Methods("POST")

	api.HandleFunc("/prices", s.handleGetPrices).Methods("GET")
	api.HandleFunc("/logs", s.handleGetLogs).Methods("GET")
	api.HandleFunc("/data", s.handleGetData).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the HTTP server at addr, blocking until it exits.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})
	handler := c.Handler(s.router)

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, handler)
}

// ==============================
// REST handlers
// ==============================

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	var out []TokenInfo
	s.run(func() {
		toks := s.eng.Tokens()
		out = make([]TokenInfo, 0, len(toks))
		for _, tok := range toks {
			if meta, ok := s.eng.Token(tok); ok {
				out = append(out, tokenInfo(tok, meta))
			}
		}
	})
	respondJSON(w, out)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	tok, err := parseAddr(mux.Vars(r)["token"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid token", err.Error())
		return
	}
	var (
		info TokenInfo
		ok   bool
	)
	s.run(func() {
		var meta *token.Metadata
		if meta, ok = s.eng.Token(tok); ok {
			info = tokenInfo(tok, meta)
		}
	})
	if !ok {
		respondError(w, http.StatusNotFound, "token not listed", "")
		return
	}
	respondJSON(w, info)
}

func (s *Server) handleListToken(w http.ResponseWriter, r *http.Request) {
	var req ListTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, tok, err := parseAddrPair(req.Caller, req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	fee, err := parseAmount(req.Fee)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid fee", err.Error())
		return
	}

	// Both the metadata cross-check and the fee pricing are external
	// calls; they run here, before the engine mutation is dispatched.
	submitted := token.Metadata{Symbol: req.Symbol, Fee: fee, Decimals: req.Decimals, Logo: req.Logo}
	meta, err := s.eng.VerifyListing(r.Context(), tok, submitted)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	listingFee, err := s.listingFee(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}

	s.run(func() {
		err = s.eng.ListToken(r.Context(), caller, tok, meta, listingFee, nowNanos())
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, tokenInfo(tok, &meta))
}

// listingFee converts the nominal USD listing price into payment-token
// base units and nets out two ledger fees (one consumed moving funds
// into the caller's subaccount, one sweeping them into the house).
func (s *Server) listingFee(ctx context.Context) (*pool.Amount, error) {
	payTok := s.eng.PaymentToken()
	var (
		payFee      *pool.Amount
		payDecimals uint32
		listed      bool
	)
	s.run(func() {
		if meta, ok := s.eng.Token(payTok); ok {
			payFee, payDecimals, listed = meta.Fee.Clone(), meta.Decimals, true
		}
	})
	if !listed {
		return nil, fmt.Errorf("payment token not listed")
	}
	if s.rates == nil {
		return pool.Zero(), nil
	}
	units, err := s.rates.USDToTokenUnits(ctx, payTok, decimal.NewFromInt(engine.ListingPriceUSD), payDecimals)
	if err != nil {
		return nil, fmt.Errorf("pricing listing fee: %w", err)
	}
	twoFees := pool.CheckedAdd(payFee, payFee)
	net, err := pool.CheckedSub(units, twoFees)
	if err != nil {
		return nil, fmt.Errorf("listing price below two payment-token fees")
	}
	return net, nil
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	tok, err := parseAddr(mux.Vars(r)["token"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid token", err.Error())
		return
	}
	var snap OrderbookSnapshot
	s.run(func() { snap = s.orderbookSnapshot(tok) })
	respondJSON(w, snap)
}

// orderbookSnapshot must run on the engine-owning goroutine.
func (s *Server) orderbookSnapshot(tok [20]byte) OrderbookSnapshot {
	buys := s.eng.Orders(tok, order.Buy)
	sells := s.eng.Orders(tok, order.Sell)
	return OrderbookSnapshot{
		Token:     hexOfAddr(tok),
		Buys:      orderInfos(buys),
		Sells:     orderInfos(sells),
		Timestamp: time.Now().UnixMilli(),
	}
}

func (s *Server) handleGetExecutedOrders(w http.ResponseWriter, r *http.Request) {
	tok, err := parseAddr(mux.Vars(r)["token"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid token", err.Error())
		return
	}
	var out []OrderInfo
	s.run(func() { out = orderInfos(s.eng.ExecutedOrders(tok)) })
	respondJSON(w, out)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddr(mux.Vars(r)["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	var out []BalanceInfo
	s.run(func() {
		balances := s.eng.TokenBalances(user)
		out = make([]BalanceInfo, 0, len(balances))
		for tok, bal := range balances {
			out = append(out, BalanceInfo{Token: hexOfAddr(tok), Balance: bal.String()})
		}
	})
	respondJSON(w, out)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, tok, err := parseAddrPair(req.User, req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	amount, price, err := parseAmountPair(req.Amount, req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount/price", err.Error())
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	var (
		info OrderInfo
		snap OrderbookSnapshot
	)
	s.run(func() {
		var o *order.Order
		o, err = s.eng.CreateOrder(user, tok, amount, price, nowNanos(), side)
		if err != nil {
			return
		}
		info = orderInfo(o)
		snap = s.orderbookSnapshot(tok)
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	s.hub.BroadcastToChannel("orderbook:"+hexOfAddr(tok), snap)
	respondJSON(w, info)
}

func (s *Server) handleCloseOrder(w http.ResponseWriter, r *http.Request) {
	var req CloseOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, tok, err := parseAddrPair(req.User, req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	amount, price, err := parseAmountPair(req.Amount, req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount/price", err.Error())
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	var snap OrderbookSnapshot
	s.run(func() {
		err = s.eng.CloseOrder(user, tok, amount, price, req.CreatedAt, side)
		if err == nil {
			snap = s.orderbookSnapshot(tok)
		}
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	s.hub.BroadcastToChannel("orderbook:"+hexOfAddr(tok), snap)
	respondJSON(w, map[string]string{"status": "closed"})
}

func (s *Server) handleCloseAllOrders(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller", err.Error())
		return
	}
	s.run(func() { err = s.eng.CloseAllOrders(caller) })
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "closed"})
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	trader, tok, err := parseAddrPair(req.Trader, req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	amount, price, err := parseAmountPair(req.Amount, req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount/price", err.Error())
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	var (
		resp   TradeResponse
		snap   OrderbookSnapshot
		filled bool
	)
	s.run(func() {
		var res engine.TradeResult
		res, err = s.eng.Trade(trader, tok, amount, price, side, nowNanos())
		if err != nil {
			return
		}
		resp = TradeResponse{Filled: res.Filled.String(), RestOrderCreated: res.RestOrderCreated}
		if res.RestOrderCreated {
			info := orderInfo(res.RestOrder)
			resp.RestOrder = &info
		}
		filled = res.Filled.Sign() > 0
		snap = s.orderbookSnapshot(tok)
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}

	s.hub.BroadcastToChannel("orderbook:"+hexOfAddr(tok), snap)
	if filled {
		s.hub.BroadcastToChannel("trades:"+hexOfAddr(tok), TradeUpdate{
			Type: "trade", Token: hexOfAddr(tok), Side: side.String(),
			Filled: resp.Filled, Timestamp: time.Now().UnixMilli(),
		})
	}
	respondJSON(w, resp)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req CustodyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, tok, err := parseAddrPair(req.User, req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}

	var fee *pool.Amount
	s.run(func() { fee, err = s.eng.TokenFee(tok) })
	if err != nil {
		respondEngineError(w, err)
		return
	}

	// The sweep is ledger I/O and runs here, off the engine loop.
	swept, err := custody.Sweep(r.Context(), s.log, s.eng.ExternalLedger(), tok, fee, s.eng.House(), user)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	s.run(func() { s.eng.CommitDeposit(user, tok, swept) })
	respondJSON(w, CustodyResponse{Amount: swept.String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req CustodyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, tok, err := parseAddrPair(req.User, req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}

	var fee, removed, payout *pool.Amount
	s.run(func() {
		fee, err = s.eng.TokenFee(tok)
		if err == nil {
			removed, payout, err = s.eng.BeginWithdraw(user, tok)
		}
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}

	// The payout transfer runs here, off the engine loop; its failure
	// dispatches the compensating rollback.
	if err := custody.Payout(r.Context(), s.log, s.eng.ExternalLedger(), tok, fee, user, payout); err != nil {
		s.run(func() { s.eng.RollbackWithdraw(user, tok, removed) })
		respondEngineError(w, err)
		return
	}
	respondJSON(w, CustodyResponse{Amount: payout.String()})
}

func (s *Server) handleSetRevenueAccount(w http.ResponseWriter, r *http.Request) {
	var req SetRevenueAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, next, err := parseAddrPair(req.Caller, req.Next)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	s.run(func() { err = s.eng.SetRevenueAccount(caller, next) })
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "set"})
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	var out []LogEntryInfo
	s.run(func() {
		logs := s.eng.Logs()
		out = make([]LogEntryInfo, len(logs))
		for i, l := range logs {
			out[i] = LogEntryInfo{EventID: l.EventID, Message: l.Message}
		}
	})
	respondJSON(w, out)
}

func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	var out []PriceInfo
	s.run(func() {
		prices := s.eng.Prices()
		out = make([]PriceInfo, 0, len(prices))
		for tok, price := range prices {
			out = append(out, PriceInfo{Token: hexOfAddr(tok), Price: price.String()})
		}
	})
	respondJSON(w, out)
}

// handleGetData serves the full-state query op: every listed token with
// its book, pool balances, and last price, plus the revenue account and
// the event log, in one response.
func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	var out DataSnapshot
	s.run(func() {
		toks := s.eng.Tokens()
		prices := s.eng.Prices()

		out = DataSnapshot{Timestamp: time.Now().UnixMilli()}
		for _, tok := range toks {
			meta, ok := s.eng.Token(tok)
			if !ok {
				continue
			}
			entry := TokenData{
				Info:      tokenInfo(tok, meta),
				Orderbook: s.orderbookSnapshot(tok),
			}
			if price, ok := prices[tok]; ok {
				entry.LastPrice = price.String()
			}
			for owner, bal := range s.eng.PoolBalances(tok) {
				entry.Balances = append(entry.Balances, OwnerBalance{Owner: hexOfAddr(owner), Balance: bal.String()})
			}
			out.Tokens = append(out.Tokens, entry)
		}
		if acct, ok := s.eng.RevenueAccount(); ok {
			out.RevenueAccount = hexOfAddr(acct)
		}
		for _, l := range s.eng.Logs() {
			out.Logs = append(out.Logs, LogEntryInfo{EventID: l.EventID, Message: l.Message})
		}
	})
	respondJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Conversion helpers
// ==============================

func tokenInfo(tok [20]byte, meta *token.Metadata) TokenInfo {
	return TokenInfo{
		Token: hexOfAddr(tok), Symbol: meta.Symbol, Fee: meta.Fee.String(),
		Decimals: meta.Decimals, Logo: meta.Logo, LastActivityTimestamp: meta.LastActivityTimestamp,
	}
}

func orderInfo(o *order.Order) OrderInfo {
	return OrderInfo{
		Side: o.Side.String(), Owner: hexOfAddr(o.Owner), Amount: o.Amount.String(),
		Price: o.Price.String(), CreatedAt: o.CreatedAt, ExecutedAt: o.ExecutedAt,
	}
}

func orderInfos(os []*order.Order) []OrderInfo {
	out := make([]OrderInfo, len(os))
	for i, o := range os {
		out[i] = orderInfo(o)
	}
	return out
}

func parseAddr(s string) ([20]byte, error) {
	if !common.IsHexAddress(s) {
		return [20]byte{}, fmt.Errorf("not a valid hex address: %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAddrPair(a, b string) (x, y [20]byte, err error) {
	if x, err = parseAddr(a); err != nil {
		return
	}
	y, err = parseAddr(b)
	return
}

func parseAmount(s string) (*pool.Amount, error) {
	amt, err := uint256.FromDecimal(s)
	if err != nil || !pool.Fits128(amt) {
		return nil, fmt.Errorf("not a valid u128 amount: %q", s)
	}
	return amt, nil
}

func parseAmountPair(a, b string) (x, y *pool.Amount, err error) {
	if x, err = parseAmount(a); err != nil {
		return
	}
	y, err = parseAmount(b)
	return
}

func parseSide(s string) (order.Side, error) {
	switch s {
	case "buy", "Buy", "BUY":
		return order.Buy, nil
	case "sell", "Sell", "SELL":
		return order.Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

func hexOfAddr(a [20]byte) string { return common.BytesToAddress(a[:]).Hex() }

func nowNanos() uint64 { return uint64(time.Now().UnixNano()) }

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}

func respondEngineError(w http.ResponseWriter, err error) {
	respondError(w, http.StatusBadRequest, "engine error", err.Error())
}
