// Package timeseries owns all ticker and candle state. Every mutation goes
// through Store so both ingestion paths observe the same cap and ordering rules.
package timeseries

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketpulse/pkg/market"
	"marketpulse/pkg/market/metrics"
)

var (
	// ErrUnknownTimeframe is returned for a timeframe with no configured cap.
	ErrUnknownTimeframe = errors.New("timeseries: unknown timeframe")
	// ErrStaleCandle is returned when a candle does not open after the newest stored one.
	ErrStaleCandle = errors.New("timeseries: candle not newer than series tail")
)

// SeriesKey identifies one candle series.
type SeriesKey struct {
	Symbol    string
	Timeframe string
}

// SeriesMeta summarises one series for discovery.
type SeriesMeta struct {
	Count     int    `json:"count"`
	Cap       int    `json:"cap"`
	FirstOpen int64  `json:"first_open"`
	LastOpen  int64  `json:"last_open"`
	LastClose string `json:"last_close"`
	Revision  uint64 `json:"revision"`
}

// Option configures a Store.
type Option func(*Store)

// WithMarketCaps enables market-cap enrichment of tickers.
func WithMarketCaps(lookup market.CapLookup) Option {
	return func(s *Store) { s.caps = lookup }
}

// WithHorizons sets the short-horizon changes computed on each upsert.
func WithHorizons(horizons []market.Horizon) Option {
	return func(s *Store) { s.horizons = append([]market.Horizon(nil), horizons...) }
}

// WithClock overrides the clock used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the in-memory time-series cache.
//
// Lock order is tickers then series. Candle writers never take the ticker lock.
type Store struct {
	limits   map[string]int
	horizons []market.Horizon
	caps     market.CapLookup
	now      func() time.Time

	tickMu  sync.RWMutex
	tickers map[string]*market.Ticker

	seriesMu sync.RWMutex
	series   map[string]map[string]*ring
}

// New builds a store retaining at most limits[timeframe] candles per series.
func New(limits map[string]int, opts ...Option) *Store {
	s := &Store{
		limits:  make(map[string]int, len(limits)),
		now:     time.Now,
		tickers: make(map[string]*market.Ticker),
		series:  make(map[string]map[string]*ring),
	}
	for tf, n := range limits {
		s.limits[tf] = n
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timeframes lists configured timeframe labels, sorted.
func (s *Store) Timeframes() []string {
	out := make([]string, 0, len(s.limits))
	for tf := range s.limits {
		out = append(out, tf)
	}
	sort.Strings(out)
	return out
}

// UpsertTicker merges a fragment into the symbol's ticker, creating it on first
// sighting, then recomputes every derived field. Returns a copy of the result.
func (s *Store) UpsertTicker(f market.TickerFragment) market.Ticker {
	symbol := market.NormalizeSymbol(f.Symbol)

	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	t, ok := s.tickers[symbol]
	if !ok {
		t = &market.Ticker{Symbol: symbol}
		s.tickers[symbol] = t
	}
	mergeRaw(&t.Raw, f)
	s.enrich(t)
	s.derive(t)
	return t.Clone()
}

func mergeRaw(raw *market.RawTicker, f market.TickerFragment) {
	if f.LastPrice != "" {
		raw.LastPrice = f.LastPrice
	}
	if f.HighPrice != "" {
		raw.HighPrice = f.HighPrice
	}
	if f.LowPrice != "" {
		raw.LowPrice = f.LowPrice
	}
	if f.Volume != "" {
		raw.Volume = f.Volume
	}
	if f.PriceChangePercent != "" {
		raw.PriceChangePercent = f.PriceChangePercent
	}
}

func (s *Store) enrich(t *market.Ticker) {
	if s.caps == nil {
		return
	}
	if mc, ok := s.caps.MarketCap(t.Symbol); ok {
		t.MarketCap = &mc
	} else {
		t.MarketCap = nil
	}
}

// derive requires tickMu held for writing.
func (s *Store) derive(t *market.Ticker) {
	t.Derived = metrics.DeriveAll(*t)
	if len(s.horizons) > 0 {
		_, priced := metrics.ParseDecimal(t.Raw.LastPrice)
		changes := make(map[string]*float64, len(s.horizons))
		for _, h := range s.horizons {
			if !priced {
				changes[h.Name] = nil
				continue
			}
			old, ok := s.PriceAtOffset(t.Symbol, h.Timeframe, h.Offset)
			if !ok {
				changes[h.Name] = nil
				continue
			}
			pct := metrics.PercentChange(old, t.Price)
			changes[h.Name] = &pct
		}
		t.Changes = changes
	}
	t.UpdatedAt = s.now()
}

// RefreshEnrichment re-applies market caps and derived fields to every ticker.
// Called after the market-cap table changes.
func (s *Store) RefreshEnrichment() int {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	for _, t := range s.tickers {
		s.enrich(t)
		s.derive(t)
	}
	return len(s.tickers)
}

// GetTicker returns a copy of the symbol's ticker.
func (s *Store) GetTicker(symbol string) (market.Ticker, bool) {
	s.tickMu.RLock()
	defer s.tickMu.RUnlock()
	t, ok := s.tickers[market.NormalizeSymbol(symbol)]
	if !ok {
		return market.Ticker{}, false
	}
	return t.Clone(), true
}

// ListTickers returns a point-in-time copy of all tickers sorted by symbol.
func (s *Store) ListTickers() []market.Ticker {
	s.tickMu.RLock()
	out := make([]market.Ticker, 0, len(s.tickers))
	for _, t := range s.tickers {
		out = append(out, t.Clone())
	}
	s.tickMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// TickerCount returns the number of known tickers.
func (s *Store) TickerCount() int {
	s.tickMu.RLock()
	defer s.tickMu.RUnlock()
	return len(s.tickers)
}

// AppendCandle appends a closed candle, evicting the oldest once the cap is reached.
// Candles that do not open after the current tail are rejected with ErrStaleCandle.
func (s *Store) AppendCandle(symbol, timeframe string, c market.Candle) error {
	limit, ok := s.limits[timeframe]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTimeframe, timeframe)
	}
	symbol = market.NormalizeSymbol(symbol)
	c.Symbol, c.Timeframe = symbol, timeframe

	s.seriesMu.Lock()
	defer s.seriesMu.Unlock()

	r := s.seriesLocked(symbol, timeframe, limit)
	if tail, ok := r.last(); ok && c.OpenTime <= tail.OpenTime {
		return fmt.Errorf("%w: %s %s open=%d tail=%d", ErrStaleCandle, symbol, timeframe, c.OpenTime, tail.OpenTime)
	}
	r.push(c)
	return nil
}

// ReplaceSeries installs a backfilled series wholesale. Candles already stored that
// open after the backfilled tail are kept so concurrent streaming is not lost.
// Returns the resulting series length.
func (s *Store) ReplaceSeries(symbol, timeframe string, candles []market.Candle) (int, error) {
	limit, ok := s.limits[timeframe]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTimeframe, timeframe)
	}
	symbol = market.NormalizeSymbol(symbol)
	merged := orderedUnique(symbol, timeframe, candles)

	s.seriesMu.Lock()
	defer s.seriesMu.Unlock()

	if len(merged) == 0 {
		if r := s.series[symbol][timeframe]; r != nil {
			return r.size, nil
		}
		return 0, nil
	}
	r := s.seriesLocked(symbol, timeframe, limit)
	tailOpen := merged[len(merged)-1].OpenTime
	for i := 0; i < r.size; i++ {
		if c := r.at(i); c.OpenTime > tailOpen {
			merged = append(merged, c)
		}
	}
	r.reset(merged)
	return r.size, nil
}

func orderedUnique(symbol, timeframe string, candles []market.Candle) []market.Candle {
	out := make([]market.Candle, 0, len(candles))
	for _, c := range candles {
		c.Symbol, c.Timeframe = symbol, timeframe
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	n := 0
	for i := range out {
		if n > 0 && out[i].OpenTime == out[n-1].OpenTime {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

// seriesLocked requires seriesMu held for writing.
func (s *Store) seriesLocked(symbol, timeframe string, limit int) *ring {
	byTF, ok := s.series[symbol]
	if !ok {
		byTF = make(map[string]*ring)
		s.series[symbol] = byTF
	}
	r, ok := byTF[timeframe]
	if !ok {
		r = newRing(limit)
		byTF[timeframe] = r
	}
	return r
}

// GetCandles returns a copy of the series ordered by open time ascending.
func (s *Store) GetCandles(symbol, timeframe string) ([]market.Candle, bool) {
	s.seriesMu.RLock()
	defer s.seriesMu.RUnlock()
	r, ok := s.series[market.NormalizeSymbol(symbol)][timeframe]
	if !ok || r.size == 0 {
		return nil, false
	}
	return r.snapshot(), true
}

// PriceAtOffset returns the close of the candle offset positions back from the
// newest one (offset 0 is the newest). The offset counts stored candles, not
// elapsed time, so gaps in the feed shift the effective horizon.
func (s *Store) PriceAtOffset(symbol, timeframe string, offset int) (float64, bool) {
	if offset < 0 {
		return 0, false
	}
	s.seriesMu.RLock()
	r, ok := s.series[market.NormalizeSymbol(symbol)][timeframe]
	if !ok || offset >= r.size {
		s.seriesMu.RUnlock()
		return 0, false
	}
	c := r.at(r.size - 1 - offset)
	s.seriesMu.RUnlock()
	return metrics.ParseDecimal(c.Close)
}

// SeriesCounts returns, per configured timeframe, how many symbols have a non-empty series.
func (s *Store) SeriesCounts() map[string]int {
	out := make(map[string]int, len(s.limits))
	for tf := range s.limits {
		out[tf] = 0
	}
	s.seriesMu.RLock()
	defer s.seriesMu.RUnlock()
	for _, byTF := range s.series {
		for tf, r := range byTF {
			if r.size > 0 {
				out[tf]++
			}
		}
	}
	return out
}

// SeriesInfo describes every non-empty series of a symbol keyed by timeframe.
func (s *Store) SeriesInfo(symbol string) map[string]SeriesMeta {
	s.seriesMu.RLock()
	defer s.seriesMu.RUnlock()
	byTF := s.series[market.NormalizeSymbol(symbol)]
	out := make(map[string]SeriesMeta, len(byTF))
	for tf, r := range byTF {
		first, ok := r.first()
		if !ok {
			continue
		}
		last, _ := r.last()
		out[tf] = SeriesMeta{
			Count:     r.size,
			Cap:       r.capacity(),
			FirstOpen: first.OpenTime,
			LastOpen:  last.OpenTime,
			LastClose: last.Close,
			Revision:  r.rev,
		}
	}
	return out
}

// Revisions returns the current revision of every series.
func (s *Store) Revisions() map[SeriesKey]uint64 {
	s.seriesMu.RLock()
	defer s.seriesMu.RUnlock()
	out := make(map[SeriesKey]uint64)
	for symbol, byTF := range s.series {
		for tf, r := range byTF {
			out[SeriesKey{Symbol: symbol, Timeframe: tf}] = r.rev
		}
	}
	return out
}

// Symbols lists every symbol with a ticker or at least one series, sorted.
func (s *Store) Symbols() []string {
	set := make(map[string]struct{})
	s.tickMu.RLock()
	for sym := range s.tickers {
		set[sym] = struct{}{}
	}
	s.tickMu.RUnlock()
	s.seriesMu.RLock()
	for sym, byTF := range s.series {
		for _, r := range byTF {
			if r.size > 0 {
				set[sym] = struct{}{}
				break
			}
		}
	}
	s.seriesMu.RUnlock()
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
