// Package ledger defines the engine's view of an external token ledger
// and an HTTP-based reference client for the three calls the custody
// protocol needs: balance_of, transfer, metadata. The remote ledger is
// untrusted; every call can fail and the caller compensates.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/spotbeacon/engine/pkg/engine/pool"
)

// TransferArgs mirrors the ICRC-1-style transfer call.
type TransferArgs struct {
	FromSubaccount *[32]byte
	To             [20]byte
	Amount         *pool.Amount
	Fee            *pool.Amount
	Memo           []byte
	CreatedAtTime  *uint64
}

// Metadata is a listed token's required ledger-reported fields.
type Metadata struct {
	Symbol   string
	Fee      *pool.Amount
	Decimals uint32
	Logo     string // optional
}

// Ledger is the set of external calls the custody protocol consumes.
// Implementations must treat every method as a suspension point: the
// engine re-reads its own state after each call returns.
type Ledger interface {
	BalanceOf(ctx context.Context, token [20]byte, account [32]byte) (*pool.Amount, error)
	Transfer(ctx context.Context, token [20]byte, args TransferArgs) (index uint64, err error)
	Metadata(ctx context.Context, token [20]byte) (Metadata, error)
}

// HTTPClient is a resty-backed reference implementation that speaks to a
// ledger canister/service fronted by a JSON-RPC-style HTTP gateway. It is
// a convenience adapter for environments where the real ledger is only
// reachable over HTTP rather than a native RPC stack.
type HTTPClient struct {
	rc      *resty.Client
	baseURL string
}

// NewHTTPClient builds a client pointed at baseURL with the given
// request timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(150 * time.Millisecond)
	return &HTTPClient{rc: rc, baseURL: baseURL}
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

func (c *HTTPClient) BalanceOf(ctx context.Context, token [20]byte, account [32]byte) (*pool.Amount, error) {
	var out balanceResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"token": hexOf(token[:]), "account": hexOf(account[:])}).
		SetResult(&out).
		Get("/tokens/{token}/balance/{account}")
	if err != nil {
		return nil, fmt.Errorf("ledger: balance_of: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ledger: balance_of: status %s", resp.Status())
	}
	amt, err := parseAmount(out.Balance)
	if err != nil {
		return nil, fmt.Errorf("ledger: balance_of: %w", err)
	}
	return amt, nil
}

type transferRequest struct {
	FromSubaccount string `json:"from_subaccount,omitempty"`
	To             string `json:"to"`
	Amount         string `json:"amount"`
	Fee            string `json:"fee"`
	Memo           string `json:"memo,omitempty"`
	CreatedAtTime  uint64 `json:"created_at_time,omitempty"`
}

type transferResponse struct {
	Index uint64 `json:"index"`
	Error string `json:"error,omitempty"`
}

func (c *HTTPClient) Transfer(ctx context.Context, token [20]byte, args TransferArgs) (uint64, error) {
	req := transferRequest{
		To:     hexOf(args.To[:]),
		Amount: args.Amount.String(),
		Fee:    args.Fee.String(),
	}
	if args.FromSubaccount != nil {
		req.FromSubaccount = hexOf(args.FromSubaccount[:])
	}
	if len(args.Memo) > 0 {
		req.Memo = hexOf(args.Memo)
	}
	if args.CreatedAtTime != nil {
		req.CreatedAtTime = *args.CreatedAtTime
	}

	var out transferResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"token": hexOf(token[:])}).
		SetBody(req).
		SetResult(&out).
		Post("/tokens/{token}/transfer")
	if err != nil {
		return 0, fmt.Errorf("ledger: transfer: %w", err)
	}
	if resp.IsError() || out.Error != "" {
		return 0, fmt.Errorf("ledger: transfer rejected: %s%s", resp.Status(), out.Error)
	}
	return out.Index, nil
}

type metadataResponse struct {
	Symbol   string `json:"symbol"`
	Fee      string `json:"fee"`
	Decimals uint32 `json:"decimals"`
	Logo     string `json:"logo"`
}

func (c *HTTPClient) Metadata(ctx context.Context, token [20]byte) (Metadata, error) {
	var out metadataResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"token": hexOf(token[:])}).
		SetResult(&out).
		Get("/tokens/{token}/metadata")
	if err != nil {
		return Metadata{}, fmt.Errorf("ledger: metadata: %w", err)
	}
	if resp.IsError() {
		return Metadata{}, fmt.Errorf("ledger: metadata: status %s", resp.Status())
	}
	fee, err := parseAmount(out.Fee)
	if err != nil {
		return Metadata{}, fmt.Errorf("ledger: metadata: %w", err)
	}
	return Metadata{Symbol: out.Symbol, Fee: fee, Decimals: out.Decimals, Logo: out.Logo}, nil
}
