package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"marketpulse/pkg/market"
)

const maxKlineLimit = 1000

var supportedIntervals = map[string]struct{}{
	"1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {}, "1M": {},
}

// GetKlines fetches the most recent closed candles, oldest first. The still-forming
// candle Binance returns last is dropped.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if _, ok := supportedIntervals[interval]; !ok {
		return nil, fmt.Errorf("binance: unsupported interval %q", interval)
	}
	if limit <= 0 || limit > maxKlineLimit {
		return nil, fmt.Errorf("binance: limit must be in [1,%d], got %d", maxKlineLimit, limit)
	}
	symbol = market.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("binance: symbol is required")
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", interval)
	// one extra row covers the open candle that gets dropped below
	query.Set("limit", strconv.Itoa(min(limit+1, maxKlineLimit)))

	var rows [][]json.RawMessage
	if err := c.doRequest(ctx, "/api/v3/klines", query, &rows); err != nil {
		return nil, err
	}

	nowMs := c.now().UnixMilli()
	candles := make([]market.Candle, 0, len(rows))
	for i, row := range rows {
		candle, err := decodeKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("binance: kline row %d for %s %s: %w", i, symbol, interval, err)
		}
		if candle.CloseTime >= nowMs {
			continue
		}
		candle.Symbol, candle.Timeframe = symbol, interval
		candles = append(candles, candle)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime < candles[j].OpenTime
	})
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// decodeKlineRow reads [openTime, open, high, low, close, volume, closeTime, ...].
func decodeKlineRow(row []json.RawMessage) (market.Candle, error) {
	if len(row) < 7 {
		return market.Candle{}, fmt.Errorf("%w: kline row has %d columns", market.ErrMalformed, len(row))
	}
	var c market.Candle
	if err := json.Unmarshal(row[0], &c.OpenTime); err != nil {
		return c, fmt.Errorf("%w: open time: %v", market.ErrMalformed, err)
	}
	for i, dst := range []*string{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume} {
		if err := json.Unmarshal(row[i+1], dst); err != nil {
			return c, fmt.Errorf("%w: column %d: %v", market.ErrMalformed, i+1, err)
		}
	}
	if err := json.Unmarshal(row[6], &c.CloseTime); err != nil {
		return c, fmt.Errorf("%w: close time: %v", market.ErrMalformed, err)
	}
	return c, nil
}
