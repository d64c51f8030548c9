// Package oracle provides the USD rate feed used to convert the
// nominal USD listing price into payment-token base units at
// list_token time. Price math goes through shopspring/decimal so no
// float error leaks into the integer amounts the engine custodies.
package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/spotbeacon/engine/pkg/engine/pool"
)

// RateOracle converts a USD amount into base units of a payment token
// with the given decimals.
type RateOracle interface {
	// USDToTokenUnits returns floor(usd / pricePerTokenUSD * 10^decimals).
	USDToTokenUnits(ctx context.Context, token [20]byte, usd decimal.Decimal, decimals uint32) (*pool.Amount, error)
}

// HTTPClient fetches a spot USD price per whole token from an HTTP price
// feed and converts using shopspring/decimal for precision, rounding
// down to the nearest base unit before handing off to u128 arithmetic.
type HTTPClient struct {
	rc *resty.Client
}

// NewHTTPClient builds a price-feed client pointed at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	rc := resty.New().SetBaseURL(baseURL).SetTimeout(timeout).SetRetryCount(2)
	return &HTTPClient{rc: rc}
}

type priceResponse struct {
	PriceUSD string `json:"price_usd"`
}

func (c *HTTPClient) USDToTokenUnits(ctx context.Context, token [20]byte, usd decimal.Decimal, decimals uint32) (*pool.Amount, error) {
	var out priceResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("token", fmt.Sprintf("%x", token)).
		SetResult(&out).
		Get("/rate")
	if err != nil {
		return nil, fmt.Errorf("oracle: rate fetch: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("oracle: rate fetch: status %s", resp.Status())
	}
	price, err := decimal.NewFromString(out.PriceUSD)
	if err != nil {
		return nil, fmt.Errorf("oracle: parse price: %w", err)
	}
	if price.IsZero() || price.IsNegative() {
		return nil, fmt.Errorf("oracle: non-positive price for token %x", token)
	}

	scale := decimal.New(1, int32(decimals))
	units := usd.Mul(scale).Div(price).Floor()
	return decimalToAmount(units)
}

func decimalToAmount(d decimal.Decimal) (*pool.Amount, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("oracle: negative token amount")
	}
	amt, err := uint256.FromDecimal(d.StringFixed(0))
	if err != nil {
		return nil, fmt.Errorf("oracle: amount out of u128 range: %w", err)
	}
	if !pool.Fits128(amt) {
		return nil, fmt.Errorf("oracle: amount out of u128 range: %s", amt)
	}
	return amt, nil
}
