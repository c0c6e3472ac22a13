// Package query is the read-only surface the rest of the application uses.
// Nothing here mutates the store; unknown symbols are reported as not found.
package query

import (
	"strings"
	"time"

	"marketpulse/pkg/market"
	"marketpulse/pkg/market/backfill"
	"marketpulse/pkg/market/ratelimit"
	"marketpulse/pkg/market/stream"
	"marketpulse/pkg/market/timeseries"
)

// Store is the read side of the time-series store.
type Store interface {
	GetTicker(symbol string) (market.Ticker, bool)
	ListTickers() []market.Ticker
	TickerCount() int
	GetCandles(symbol, timeframe string) ([]market.Candle, bool)
	SeriesCounts() map[string]int
	SeriesInfo(symbol string) map[string]timeseries.SeriesMeta
	Symbols() []string
	Timeframes() []string
}

// LimiterStatus exposes the REST rate limiter for observability.
type LimiterStatus interface {
	Status() ratelimit.Status
}

const (
	StatusOK      = "ok"
	StatusWarming = "warming"
)

// Health summarises the cache state.
type Health struct {
	Status    string           `json:"status"`
	Tickers   int              `json:"tickers"`
	Series    map[string]int   `json:"series"`
	RateLimit ratelimit.Status `json:"rate_limit"`
	Backfill  *BackfillSummary `json:"backfill,omitempty"`
	Stream    *stream.Stats    `json:"stream,omitempty"`
	CheckedAt time.Time        `json:"checked_at"`
}

// BackfillSummary is the last backfill report without per-pair detail.
type BackfillSummary struct {
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Pairs     int       `json:"pairs"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}

// SymbolSummary describes one known symbol.
type SymbolSummary struct {
	Symbol    string                           `json:"symbol"`
	HasTicker bool                             `json:"has_ticker"`
	Price     float64                          `json:"price"`
	Change24h float64                          `json:"change_24h"`
	VolumeUSD float64                          `json:"volume_usd"`
	MarketCap *float64                         `json:"market_cap"`
	Series    map[string]timeseries.SeriesMeta `json:"series"`
}

// Discovery lists every known symbol with series metadata.
type Discovery struct {
	Count      int             `json:"count"`
	Timeframes []string        `json:"timeframes"`
	Symbols    []SymbolSummary `json:"symbols"`
}

// Option configures a Facade.
type Option func(*Facade)

// WithBackfillReport supplies the last backfill report, if any.
func WithBackfillReport(last func() (backfill.Report, bool)) Option {
	return func(f *Facade) { f.lastBackfill = last }
}

// WithStreamStats supplies ingestion counters.
func WithStreamStats(stats func() stream.Stats) Option {
	return func(f *Facade) { f.streamStats = stats }
}

// WithClock overrides the clock used for CheckedAt.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) {
		if now != nil {
			f.now = now
		}
	}
}

// Facade answers read queries.
type Facade struct {
	store        Store
	limiter      LimiterStatus
	lastBackfill func() (backfill.Report, bool)
	streamStats  func() stream.Stats
	now          func() time.Time
}

// NewFacade builds a Facade over the store and limiter.
func NewFacade(store Store, limiter LimiterStatus, opts ...Option) *Facade {
	f := &Facade{store: store, limiter: limiter, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Health reports counts, rate-limiter status and, when wired, backfill and stream progress.
func (f *Facade) Health() Health {
	h := Health{
		Status:    StatusOK,
		Tickers:   f.store.TickerCount(),
		Series:    f.store.SeriesCounts(),
		CheckedAt: f.now(),
	}
	if h.Tickers == 0 {
		h.Status = StatusWarming
	}
	if f.limiter != nil {
		h.RateLimit = f.limiter.Status()
	}
	if f.lastBackfill != nil {
		if r, ok := f.lastBackfill(); ok {
			h.Backfill = &BackfillSummary{
				Started: r.Started, Finished: r.Finished, Pairs: r.Pairs,
				Succeeded: r.Succeeded, Skipped: r.Skipped, Failed: r.Failed,
			}
		}
	}
	if f.streamStats != nil {
		st := f.streamStats()
		h.Stream = &st
	}
	return h
}

// Tickers returns the full ticker snapshot sorted by symbol.
func (f *Facade) Tickers() []market.Ticker {
	return f.store.ListTickers()
}

// Ticker returns one ticker; symbol is case-insensitive.
func (f *Facade) Ticker(symbol string) (market.Ticker, bool) {
	return f.store.GetTicker(market.NormalizeSymbol(symbol))
}

// Candles returns one series; symbol is case-insensitive.
func (f *Facade) Candles(symbol, timeframe string) ([]market.Candle, bool) {
	symbol = market.NormalizeSymbol(symbol)
	timeframe = strings.TrimSpace(timeframe)
	if symbol == "" || timeframe == "" {
		return nil, false
	}
	return f.store.GetCandles(symbol, timeframe)
}

// Discovery lists every symbol with a ticker or a series.
func (f *Facade) Discovery() Discovery {
	symbols := f.store.Symbols()
	out := Discovery{
		Count:      len(symbols),
		Timeframes: f.store.Timeframes(),
		Symbols:    make([]SymbolSummary, 0, len(symbols)),
	}
	for _, symbol := range symbols {
		summary := SymbolSummary{Symbol: symbol, Series: f.store.SeriesInfo(symbol)}
		if t, ok := f.store.GetTicker(symbol); ok {
			summary.HasTicker = true
			summary.Price = t.Price
			summary.Change24h = t.Change24h
			summary.VolumeUSD = t.VolumeUSD
			summary.MarketCap = t.MarketCap
		}
		out.Symbols = append(out.Symbols, summary)
	}
	return out
}
