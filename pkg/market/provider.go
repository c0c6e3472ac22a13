package market

import (
	"context"
	"strings"
	"time"
)

// Provider exposes an upstream exchange: batch history plus push feeds.
type Provider interface {
	// Klines returns the most recent closed candles for symbol/timeframe ordered oldest → newest.
	Klines(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	// Tickers returns full 24h snapshots for the given symbols.
	Tickers(ctx context.Context, symbols []string) ([]TickerFragment, error)
	// StreamTickers delivers consolidated tick batches until ctx is cancelled.
	StreamTickers(ctx context.Context, handle MessageHandler) error
	// StreamCandles delivers candle updates for every symbol/timeframe pair until ctx is cancelled.
	StreamCandles(ctx context.Context, symbols, timeframes []string, handle MessageHandler) error
}

// MessageHandler consumes decoded upstream messages. It must not block on network I/O.
type MessageHandler func(Message)

// CapLookup resolves the USD market capitalisation for a trading symbol.
type CapLookup interface {
	MarketCap(symbol string) (float64, bool)
}

// RawTicker holds upstream 24h statistics exactly as received (decimal text).
type RawTicker struct {
	LastPrice          string `json:"last_price"`
	HighPrice          string `json:"high_price"`
	LowPrice           string `json:"low_price"`
	Volume             string `json:"volume"`
	PriceChangePercent string `json:"price_change_percent"`
}

// Derived carries the numeric fields recomputed on every raw update.
type Derived struct {
	Price            float64 `json:"price"`
	Change24h        float64 `json:"change_24h"`
	High24h          float64 `json:"high_24h"`
	Low24h           float64 `json:"low_24h"`
	VolumeBase       float64 `json:"volume_base"`
	VolumeUSD        float64 `json:"volume_usd"`
	RangePosition24h float64 `json:"range_position_24h"`
	VolumeScore      float64 `json:"volume_score"`
}

// Ticker is the latest 24h snapshot for one symbol, enriched and derived.
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Raw       RawTicker `json:"raw"`
	MarketCap *float64  `json:"market_cap"`
	Derived
	// Changes maps horizon name (e.g. "1h") to a percentage change; nil until enough history exists.
	Changes   map[string]*float64 `json:"changes"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to readers.
func (t Ticker) Clone() Ticker {
	out := t
	if t.MarketCap != nil {
		mc := *t.MarketCap
		out.MarketCap = &mc
	}
	if t.Changes != nil {
		out.Changes = make(map[string]*float64, len(t.Changes))
		for name, v := range t.Changes {
			if v == nil {
				out.Changes[name] = nil
				continue
			}
			val := *v
			out.Changes[name] = &val
		}
	}
	return out
}

// Candle is one closed OHLCV bar. Prices and volume stay in upstream decimal text.
type Candle struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	OpenTime  int64  `json:"open_time"`  // milliseconds
	CloseTime int64  `json:"close_time"` // milliseconds
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
}

// Horizon defines a short-horizon change as an offset back from the newest candle of a timeframe.
type Horizon struct {
	Name      string
	Timeframe string
	Offset    int
}

// NormalizeSymbol upper-cases and trims a symbol so lookups are case-insensitive.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
