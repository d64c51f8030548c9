// Package engine implements the custodial spot exchange: order book,
// matching/settlement, pool accounting, order lifecycle, and the
// deposit/withdraw protocol that couples it to an external token ledger.
package engine

import (
	"github.com/spotbeacon/engine/pkg/engine/order"
)

// Side is the direction of an order relative to the non-payment token.
type Side = order.Side

const (
	Buy  = order.Buy
	Sell = order.Sell
)

// Protocol-wide constants.
const (
	// TxFeeNumerator is the design-fee numerator: trading_fee = max(1, volume*TxFeeNumerator/payment_fee).
	TxFeeNumerator = 20
	// OrderExpirationDays is the age at which an open order becomes eligible for expiry.
	OrderExpirationDays = 90
	// MaxOrdersPerHour bounds order creation per user in a sliding one-hour window.
	MaxOrdersPerHour = 15
	// ListingPriceUSD is the nominal USD price of listing a new token, converted
	// to payment-token units via the rate oracle.
	ListingPriceUSD = 100
)

const nanosPerDay = int64(24 * 60 * 60 * 1_000_000_000)

// ExpirationWindowNanos is OrderExpirationDays expressed in nanoseconds.
func ExpirationWindowNanos() int64 { return OrderExpirationDays * nanosPerDay }

// DelistWindowNanos is the 2*OrderExpirationDays grace window used by
// housekeeping before a dormant token is delisted.
func DelistWindowNanos() int64 { return 2 * OrderExpirationDays * nanosPerDay }
