package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Balances fetches the per-asset account balances.
func (c *Client) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	raw, err := c.Private(ctx, "/0/private/Balance", nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetch balances")
	}

	var payload map[string]string
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Wrap(err, "decode balances")
	}

	balances := make(map[string]decimal.Decimal, len(payload))
	for asset, amount := range payload {
		balances[asset] = parseDecimal(amount)
	}
	return balances, nil
}

// BalanceFor looks an asset up in a balance map, tolerating the exchange's
// X/Z asset-code prefixes and common ticker aliases.
func BalanceFor(balances map[string]decimal.Decimal, asset string) decimal.Decimal {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if alias, ok := assetAliases[asset]; ok {
		asset = alias
	}

	for _, key := range []string{asset, "X" + asset, "Z" + asset} {
		if amount, ok := balances[key]; ok {
			return amount
		}
	}
	return decimal.Zero
}

// PortfolioValue returns the account's total equity expressed in the quote
// asset. One call gives the single consistent valuation snapshot the
// executor needs for a whole validation pass.
func (c *Client) PortfolioValue(ctx context.Context, quoteAsset string) (decimal.Decimal, error) {
	form := url.Values{}
	form.Set("asset", quoteAsset)

	raw, err := c.Private(ctx, "/0/private/TradeBalance", form)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "fetch trade balance")
	}

	var payload struct {
		EquivalentBalance string `json:"eb"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return decimal.Zero, errors.Wrap(err, "decode trade balance")
	}

	return parseDecimal(payload.EquivalentBalance), nil
}

// Price returns the pair's last trade price.
func (c *Client) Price(ctx context.Context, pair string) (decimal.Decimal, error) {
	form := url.Values{}
	form.Set("pair", pair)

	raw, err := c.Public(ctx, "/0/public/Ticker", form)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "fetch ticker")
	}

	var payload map[string]struct {
		Last []string `json:"c"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return decimal.Zero, errors.Wrap(err, "decode ticker")
	}

	for _, ticker := range payload {
		if len(ticker.Last) == 0 {
			break
		}
		price := parseDecimal(ticker.Last[0])
		if price.IsPositive() {
			return price, nil
		}
	}

	return decimal.Zero, fmt.Errorf("no price for pair %s", pair)
}
