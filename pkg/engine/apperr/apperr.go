// Package apperr defines the error taxonomy shared across the engine.
// Errors are sentinels. Most call sites return them bare; a call site
// that adds detail (such as a ledger provider's message) wraps the
// sentinel with fmt.Errorf("%w: ...").
package apperr

import "errors"

var (
	// ErrInsufficientFunds is returned when a pool debit would underflow,
	// or a reservation exceeds the available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNotListed is returned for operations on an unknown token.
	ErrNotListed = errors.New("token not listed")
	// ErrNotFound is returned when an order key is not present — covers
	// both "no book for token" and "no matching order".
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyExists is returned when create_order collides with an
	// existing open order under the uniqueness key.
	ErrAlreadyExists = errors.New("order already exists")
	// ErrRateLimited is returned when a user exceeds MaxOrdersPerHour.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidPrice is returned for price == 0 on a limit create.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrOrderTooSmall is returned when trading_fee*10 > volume.
	ErrOrderTooSmall = errors.New("order too small")
	// ErrMetadataIncomplete is returned when the ledger did not return
	// symbol, fee, and decimals.
	ErrMetadataIncomplete = errors.New("token metadata incomplete")
	// ErrLedgerCallFailed wraps an upstream transfer/balance_of failure.
	ErrLedgerCallFailed = errors.New("ledger call failed")
	// ErrFeeTooHigh is returned on withdrawal when balance <= fee.
	ErrFeeTooHigh = errors.New("balance does not cover withdrawal fee")
)
