package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/pkg/market"
	"marketpulse/pkg/market/timeseries"
)

type fakeProvider struct {
	tickers []market.Message
	candles []market.Message

	mu         sync.Mutex
	symbols    []string
	timeframes []string
}

func (f *fakeProvider) Klines(context.Context, string, string, int) ([]market.Candle, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) Tickers(context.Context, []string) ([]market.TickerFragment, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) StreamTickers(ctx context.Context, handle market.MessageHandler) error {
	for _, m := range f.tickers {
		handle(m)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeProvider) StreamCandles(ctx context.Context, symbols, timeframes []string, handle market.MessageHandler) error {
	f.mu.Lock()
	f.symbols, f.timeframes = symbols, timeframes
	f.mu.Unlock()
	for _, m := range f.candles {
		handle(m)
	}
	<-ctx.Done()
	return nil
}

func candleMsg(symbol, tf string, open int64, close string, closed bool) market.Message {
	return market.Message{Kind: market.MessageCandle, Candle: &market.CandleFragment{
		Candle: market.Candle{
			Symbol: symbol, Timeframe: tf, OpenTime: open, CloseTime: open + 299_999,
			Open: close, High: close, Low: close, Close: close, Volume: "1",
		},
		Closed: closed,
	}}
}

func newStore() *timeseries.Store {
	return timeseries.New(map[string]int{"5m": 10, "1h": 10})
}

func TestHandleTickerBatch(t *testing.T) {
	store := newStore()
	ing := NewIngestor(&fakeProvider{}, store, nil, nil)

	ing.Handle(market.Message{Kind: market.MessageTickers, Tickers: []market.TickerFragment{
		{Symbol: "BTCUSDT", LastPrice: "67500", HighPrice: "68000", LowPrice: "66000", Volume: "2", EventTime: 10},
		{Symbol: "ETHUSDT", LastPrice: "bad"},
		{Symbol: "SOLUSDT", LastPrice: "150", EventTime: 12},
	}})

	assert.Equal(t, 2, store.TickerCount())
	btc, ok := store.GetTicker("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 75.0, btc.RangePosition24h, 1e-9)

	st := ing.Stats()
	assert.EqualValues(t, 2, st.Tickers)
	assert.EqualValues(t, 1, st.Malformed)
	assert.EqualValues(t, 12, st.LastUpdate)
}

func TestHandleTickerFilter(t *testing.T) {
	store := newStore()
	ing := NewIngestor(&fakeProvider{}, store, nil, nil, WithSymbolFilter([]string{"btcusdt"}))
	ing.Handle(market.Message{Kind: market.MessageTickers, Tickers: []market.TickerFragment{
		{Symbol: "BTCUSDT", LastPrice: "1"},
		{Symbol: "DOGEUSDT", LastPrice: "1"},
	}})
	assert.Equal(t, 1, store.TickerCount())
	assert.EqualValues(t, 1, ing.Stats().Filtered)
}

func TestHandleCandleOnlyStoresClosed(t *testing.T) {
	store := newStore()
	ing := NewIngestor(&fakeProvider{}, store, nil, nil)

	ing.Handle(candleMsg("BTCUSDT", "5m", 1_000, "1", false))
	_, ok := store.GetCandles("BTCUSDT", "5m")
	assert.False(t, ok, "open candle must not be stored")

	ing.Handle(candleMsg("BTCUSDT", "5m", 1_000, "2", true))
	ing.Handle(candleMsg("BTCUSDT", "5m", 1_000, "3", true)) // duplicate after reconnect
	ing.Handle(candleMsg("BTCUSDT", "1m", 2_000, "3", true)) // not configured
	ing.Handle(candleMsg("BTCUSDT", "5m", 0, "3", true))     // malformed
	ing.Handle(market.Message{Kind: market.MessageCandle})
	ing.Handle(market.Message{})

	got, ok := store.GetCandles("BTCUSDT", "5m")
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].Close)

	st := ing.Stats()
	assert.EqualValues(t, 1, st.Candles)
	assert.EqualValues(t, 1, st.OpenSkips)
	assert.EqualValues(t, 1, st.Stale)
	assert.EqualValues(t, 4, st.Malformed)
}

func TestRunSubscribesBothFeeds(t *testing.T) {
	provider := &fakeProvider{
		tickers: []market.Message{{Kind: market.MessageTickers, Tickers: []market.TickerFragment{{Symbol: "BTCUSDT", LastPrice: "1"}}}},
		candles: []market.Message{candleMsg("BTCUSDT", "1h", 3_600_000, "1", true)},
	}
	store := newStore()
	ing := NewIngestor(provider, store, []string{"BTCUSDT"}, []string{"5m", "1h"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ing.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := store.GetCandles("BTCUSDT", "1h")
		return ok && store.TickerCount() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.Equal(t, []string{"BTCUSDT"}, provider.symbols)
	assert.Equal(t, []string{"5m", "1h"}, provider.timeframes)
}
