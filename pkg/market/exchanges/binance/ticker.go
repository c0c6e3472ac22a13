package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"marketpulse/pkg/market"
)

type restTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	PriceChangePercent string `json:"priceChangePercent"`
	CloseTime          int64  `json:"closeTime"`
}

// GetTickers24h fetches rolling 24h statistics for the given symbols in one request.
func (c *Client) GetTickers24h(ctx context.Context, symbols []string) ([]market.TickerFragment, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	normalised := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = market.NormalizeSymbol(s); s != "" {
			normalised = append(normalised, s)
		}
	}
	encoded, err := json.Marshal(normalised)
	if err != nil {
		return nil, fmt.Errorf("binance: encode symbols: %w", err)
	}
	query := url.Values{}
	query.Set("symbols", string(encoded))

	var rows []restTicker
	if err := c.doRequest(ctx, "/api/v3/ticker/24hr", query, &rows); err != nil {
		return nil, err
	}
	out := make([]market.TickerFragment, 0, len(rows))
	for _, row := range rows {
		out = append(out, market.TickerFragment{
			Symbol:             row.Symbol,
			LastPrice:          row.LastPrice,
			HighPrice:          row.HighPrice,
			LowPrice:           row.LowPrice,
			Volume:             row.Volume,
			PriceChangePercent: row.PriceChangePercent,
			EventTime:          row.CloseTime,
		})
	}
	return out, nil
}
