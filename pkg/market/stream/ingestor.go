// Package stream applies push messages from the upstream feeds to the store.
package stream

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"marketpulse/pkg/market"
	"marketpulse/pkg/market/timeseries"
)

// Store is the subset of the time-series store the ingestor writes to.
type Store interface {
	UpsertTicker(f market.TickerFragment) market.Ticker
	AppendCandle(symbol, timeframe string, c market.Candle) error
}

// Stats counts what the ingestor did with inbound messages.
type Stats struct {
	Tickers    int64 `json:"tickers"`
	Candles    int64 `json:"candles"`
	OpenSkips  int64 `json:"open_skips"`
	Filtered   int64 `json:"filtered"`
	Stale      int64 `json:"stale"`
	Malformed  int64 `json:"malformed"`
	LastUpdate int64 `json:"last_update"` // unix ms of the newest upstream event time seen
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithSymbolFilter restricts ticker upserts to the given symbols.
func WithSymbolFilter(symbols []string) Option {
	return func(i *Ingestor) {
		if len(symbols) == 0 {
			return
		}
		i.filter = make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			i.filter[market.NormalizeSymbol(s)] = struct{}{}
		}
	}
}

// Ingestor owns the two long-lived subscriptions.
type Ingestor struct {
	provider   market.Provider
	store      Store
	symbols    []string
	timeframes []string
	filter     map[string]struct{}

	tickers, candles, openSkips, filtered, stale, malformed atomic.Int64
	lastUpdate                                              atomic.Int64
}

// NewIngestor wires a provider to a store for the given symbols and timeframes.
func NewIngestor(provider market.Provider, store Store, symbols, timeframes []string, opts ...Option) *Ingestor {
	i := &Ingestor{
		provider:   provider,
		store:      store,
		symbols:    append([]string(nil), symbols...),
		timeframes: append([]string(nil), timeframes...),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run keeps both subscriptions alive until ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context) {
	group := threading.NewRoutineGroup()
	group.RunSafe(func() {
		if err := i.provider.StreamTickers(ctx, i.Handle); err != nil && ctx.Err() == nil {
			logx.Errorf("stream: ticker subscription ended err=%v", err)
		}
	})
	group.RunSafe(func() {
		if err := i.provider.StreamCandles(ctx, i.symbols, i.timeframes, i.Handle); err != nil && ctx.Err() == nil {
			logx.Errorf("stream: candle subscription ended err=%v", err)
		}
	})
	group.Wait()
}

// Handle applies one decoded message. It never blocks on I/O and never panics on bad input.
func (i *Ingestor) Handle(msg market.Message) {
	switch msg.Kind {
	case market.MessageTickers:
		for _, fragment := range msg.Tickers {
			i.handleTicker(fragment)
		}
	case market.MessageCandle:
		if msg.Candle == nil {
			i.malformed.Add(1)
			logx.Errorf("stream: drop candle message without body")
			return
		}
		i.handleCandle(*msg.Candle)
	default:
		i.malformed.Add(1)
		logx.Errorf("stream: drop message kind=%s", msg.Kind)
	}
}

func (i *Ingestor) handleTicker(f market.TickerFragment) {
	if err := f.Validate(); err != nil {
		i.malformed.Add(1)
		logx.Errorf("stream: drop ticker fragment err=%v", err)
		return
	}
	if i.filter != nil {
		if _, ok := i.filter[market.NormalizeSymbol(f.Symbol)]; !ok {
			i.filtered.Add(1)
			return
		}
	}
	i.store.UpsertTicker(f)
	i.tickers.Add(1)
	i.observe(f.EventTime)
}

func (i *Ingestor) handleCandle(f market.CandleFragment) {
	if err := f.Validate(); err != nil {
		i.malformed.Add(1)
		logx.Errorf("stream: drop candle fragment err=%v", err)
		return
	}
	if !f.Closed {
		i.openSkips.Add(1)
		return
	}
	c := f.Candle
	err := i.store.AppendCandle(c.Symbol, c.Timeframe, c)
	switch {
	case err == nil:
		i.candles.Add(1)
		i.observe(c.CloseTime)
	case errors.Is(err, timeseries.ErrStaleCandle):
		i.stale.Add(1)
		logx.Debugf("stream: skip stale candle symbol=%s timeframe=%s open=%d", c.Symbol, c.Timeframe, c.OpenTime)
	default:
		i.malformed.Add(1)
		logx.Errorf("stream: append candle symbol=%s timeframe=%s err=%v", c.Symbol, c.Timeframe, err)
	}
}

func (i *Ingestor) observe(ts int64) {
	for {
		cur := i.lastUpdate.Load()
		if ts <= cur || i.lastUpdate.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// Stats returns a snapshot of the counters.
func (i *Ingestor) Stats() Stats {
	return Stats{
		Tickers:    i.tickers.Load(),
		Candles:    i.candles.Load(),
		OpenSkips:  i.openSkips.Load(),
		Filtered:   i.filtered.Load(),
		Stale:      i.stale.Load(),
		Malformed:  i.malformed.Load(),
		LastUpdate: i.lastUpdate.Load(),
	}
}
