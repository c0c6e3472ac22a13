package market

import "context"

// Mirror hooks let the aggregator publish its in-memory state to external caches.
type Mirror interface {
	// PublishTickers writes the full ticker snapshot.
	PublishTickers(ctx context.Context, tickers []Ticker) error
	// PublishSeries writes one candle series, oldest → newest.
	PublishSeries(ctx context.Context, symbol, timeframe string, candles []Candle) error
}
