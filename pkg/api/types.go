package api

// API response types for REST endpoints and WebSocket messages.

// TokenInfo is a listed token's metadata.
type TokenInfo struct {
	Token                 string `json:"token"`
	Symbol                string `json:"symbol"`
	Fee                   string `json:"fee"`
	Decimals              uint32 `json:"decimals"`
	Logo                  string `json:"logo,omitempty"`
	LastActivityTimestamp uint64 `json:"lastActivityTimestamp"`
}

// OrderInfo is one resting or archived order.
type OrderInfo struct {
	Side       string `json:"side"`
	Owner      string `json:"owner"`
	Amount     string `json:"amount"`
	Price      string `json:"price"`
	CreatedAt  uint64 `json:"createdAt"`
	ExecutedAt uint64 `json:"executedAt,omitempty"`
}

// OrderbookSnapshot is the bids/asks view of one token's book.
type OrderbookSnapshot struct {
	Token     string      `json:"token"`
	Buys      []OrderInfo `json:"buys"`
	Sells     []OrderInfo `json:"sells"`
	Timestamp int64       `json:"timestamp"`
}

// BalanceInfo is one token balance held in a user's pool.
type BalanceInfo struct {
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

// PriceInfo is one token's most recent execution price.
type PriceInfo struct {
	Token string `json:"token"`
	Price string `json:"price"`
}

// OwnerBalance is one user's balance inside a token's pool.
type OwnerBalance struct {
	Owner   string `json:"owner"`
	Balance string `json:"balance"`
}

// TokenData groups everything known about one listed token for the
// full-state data query.
type TokenData struct {
	Info      TokenInfo         `json:"info"`
	Orderbook OrderbookSnapshot `json:"orderbook"`
	Balances  []OwnerBalance    `json:"balances,omitempty"`
	LastPrice string            `json:"lastPrice,omitempty"`
}

// DataSnapshot is the response of GET /api/v1/data: the engine's full
// queryable state in one shot.
type DataSnapshot struct {
	Tokens         []TokenData    `json:"tokens"`
	RevenueAccount string         `json:"revenueAccount,omitempty"`
	Logs           []LogEntryInfo `json:"logs,omitempty"`
	Timestamp      int64          `json:"timestamp"`
}

// LogEntryInfo is one bounded engine event log record.
type LogEntryInfo struct {
	EventID uint64 `json:"eventId"`
	Message string `json:"message"`
}

// TradeRequest is the payload for POST /api/v1/trade. Price "0" is a
// market order.
type TradeRequest struct {
	Trader string `json:"trader"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
	Price  string `json:"price"`
	Side   string `json:"side"` // "buy" or "sell"
}

// TradeResponse reports the outcome of a trade call.
type TradeResponse struct {
	Filled           string     `json:"filled"`
	RestOrderCreated bool       `json:"restOrderCreated"`
	RestOrder        *OrderInfo `json:"restOrder,omitempty"`
}

// CreateOrderRequest is the payload for POST /api/v1/orders.
type CreateOrderRequest struct {
	User   string `json:"user"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
	Price  string `json:"price"`
	Side   string `json:"side"`
}

// CloseOrderRequest is the payload for POST /api/v1/orders/close; the
// fields form the exact key the close looks up.
type CloseOrderRequest struct {
	User      string `json:"user"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
	CreatedAt uint64 `json:"createdAt"`
	Side      string `json:"side"`
}

// ListTokenRequest is the payload for POST /api/v1/tokens.
type ListTokenRequest struct {
	Caller   string `json:"caller"`
	Token    string `json:"token"`
	Symbol   string `json:"symbol"`
	Fee      string `json:"fee"`
	Decimals uint32 `json:"decimals"`
	Logo     string `json:"logo,omitempty"`
}

// CustodyRequest is the payload for POST /api/v1/deposit and
// /api/v1/withdraw.
type CustodyRequest struct {
	User  string `json:"user"`
	Token string `json:"token"`
}

// CustodyResponse reports the net amount moved.
type CustodyResponse struct {
	Amount string `json:"amount"`
}

// SetRevenueAccountRequest is the payload for POST /api/v1/revenue-account.
type SetRevenueAccountRequest struct {
	Caller string `json:"caller"`
	Next   string `json:"next"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket message types
// ==============================

// WSSubscribeRequest is sent by a client to subscribe to channels.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// OrderbookUpdate is a type-tagged form of OrderbookSnapshot. The
// server's "orderbook:<token>" broadcasts send OrderbookSnapshot, not
// this type.
type OrderbookUpdate struct {
	Type      string      `json:"type"` // "orderbook"
	Token     string      `json:"token"`
	Buys      []OrderInfo `json:"buys"`
	Sells     []OrderInfo `json:"sells"`
	Timestamp int64       `json:"timestamp"`
}

// TradeUpdate is broadcast when a trade call fills at least one order.
type TradeUpdate struct {
	Type      string `json:"type"` // "trade"
	Token     string `json:"token"`
	Side      string `json:"side"`
	Filled    string `json:"filled"`
	Timestamp int64  `json:"timestamp"`
}
