package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PairInfo is the exchange's metadata for one trading pair. Fetched once
// and cached for the process lifetime.
type PairInfo struct {
	Name     string
	Altname  string
	Base     string
	Quote    string
	OrderMin decimal.Decimal
	CostMin  decimal.Decimal
}

// assetAliases maps common alternate tickers to the exchange's canonical
// asset codes.
var assetAliases = map[string]string{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

type pairPayload struct {
	Altname  string `json:"altname"`
	Wsname   string `json:"wsname"`
	Base     string `json:"base"`
	Quote    string `json:"quote"`
	OrderMin string `json:"ordermin"`
	CostMin  string `json:"costmin"`
}

// ResolvePair normalizes a free-form pair identifier ("ETH/USD", "btc-usd")
// to the exchange's canonical pair and returns its metadata.
func (c *Client) ResolvePair(ctx context.Context, pair string) (PairInfo, error) {
	if err := c.ensurePairsLoaded(ctx); err != nil {
		return PairInfo{}, err
	}

	c.pairsMu.Lock()
	defer c.pairsMu.Unlock()

	for _, candidate := range pairCandidates(pair) {
		if canonical, ok := c.pairIndex[candidate]; ok {
			return c.pairs[canonical], nil
		}
	}

	return PairInfo{}, fmt.Errorf("unknown trading pair %q", pair)
}

// pairCandidates produces normalized lookup keys for a pair identifier,
// with and without asset aliasing applied.
func pairCandidates(pair string) []string {
	normalized := strings.ToUpper(strings.TrimSpace(pair))
	for _, sep := range []string{"/", "-", "_", " "} {
		normalized = strings.ReplaceAll(normalized, sep, "/")
	}

	candidates := []string{strings.ReplaceAll(normalized, "/", "")}

	if base, quote, found := strings.Cut(normalized, "/"); found {
		if alias, ok := assetAliases[base]; ok {
			base = alias
		}
		if alias, ok := assetAliases[quote]; ok {
			quote = alias
		}
		candidates = append(candidates, base+quote)
	}

	return candidates
}

func (c *Client) ensurePairsLoaded(ctx context.Context) error {
	c.pairsMu.Lock()
	loaded := c.pairsLoaded
	c.pairsMu.Unlock()
	if loaded {
		return nil
	}

	raw, err := c.Public(ctx, "/0/public/AssetPairs", nil)
	if err != nil {
		return errors.Wrap(err, "fetch asset pairs")
	}

	var payload map[string]pairPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return errors.Wrap(err, "decode asset pairs")
	}

	pairs := make(map[string]PairInfo, len(payload))
	index := make(map[string]string, len(payload)*2)
	for name, p := range payload {
		info := PairInfo{
			Name:     name,
			Altname:  p.Altname,
			Base:     p.Base,
			Quote:    p.Quote,
			OrderMin: parseDecimal(p.OrderMin),
			CostMin:  parseDecimal(p.CostMin),
		}
		pairs[name] = info

		index[name] = name
		if p.Altname != "" {
			index[strings.ToUpper(p.Altname)] = name
		}
		if p.Wsname != "" {
			index[strings.ToUpper(strings.ReplaceAll(p.Wsname, "/", ""))] = name
		}
	}

	c.pairsMu.Lock()
	defer c.pairsMu.Unlock()
	if c.pairsLoaded {
		return nil
	}
	c.pairs = pairs
	c.pairIndex = index
	c.pairsLoaded = true

	c.logger.Info("loaded trading pair metadata", zap.Int("pairs", len(pairs)))
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
