package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/pkg/market"
	"marketpulse/pkg/market/backfill"
	"marketpulse/pkg/market/ratelimit"
	"marketpulse/pkg/market/stream"
	"marketpulse/pkg/market/timeseries"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newStore() *timeseries.Store {
	return timeseries.New(map[string]int{"1m": 5, "1h": 3})
}

func candle(openMs int64, closePrice string) market.Candle {
	return market.Candle{
		OpenTime:  openMs,
		CloseTime: openMs + 59_999,
		Open:      closePrice, High: closePrice, Low: closePrice, Close: closePrice,
		Volume: "1",
	}
}

func TestHealthWarmingThenOK(t *testing.T) {
	store := newStore()
	limiter := ratelimit.New(50, time.Minute, ratelimit.WithClock(func() time.Time { return fixedNow }))
	facade := NewFacade(store, limiter, WithClock(func() time.Time { return fixedNow }))

	h := facade.Health()
	assert.Equal(t, StatusWarming, h.Status)
	assert.Equal(t, 0, h.Tickers)
	assert.Equal(t, map[string]int{"1m": 0, "1h": 0}, h.Series)
	assert.Equal(t, 50, h.RateLimit.Limit)
	assert.Nil(t, h.Backfill)
	assert.Nil(t, h.Stream)
	assert.Equal(t, fixedNow, h.CheckedAt)

	require.True(t, limiter.TryAcquire())
	store.UpsertTicker(market.TickerFragment{Symbol: "BTCUSDT", LastPrice: "100"})
	_, err := store.ReplaceSeries("BTCUSDT", "1m", []market.Candle{candle(60_000, "100")})
	require.NoError(t, err)

	h = facade.Health()
	assert.Equal(t, StatusOK, h.Status)
	assert.Equal(t, 1, h.Tickers)
	assert.Equal(t, 1, h.Series["1m"])
	assert.Equal(t, 0, h.Series["1h"])
	assert.Equal(t, 1, h.RateLimit.Count)
}

func TestHealthIncludesBackfillAndStream(t *testing.T) {
	report := backfill.Report{Started: fixedNow, Finished: fixedNow.Add(time.Minute), Pairs: 4, Succeeded: 3, Failed: 1}
	facade := NewFacade(newStore(), nil,
		WithBackfillReport(func() (backfill.Report, bool) { return report, true }),
		WithStreamStats(func() stream.Stats { return stream.Stats{Tickers: 7, Candles: 2} }),
	)

	h := facade.Health()
	require.NotNil(t, h.Backfill)
	assert.Equal(t, 4, h.Backfill.Pairs)
	assert.Equal(t, 3, h.Backfill.Succeeded)
	assert.Equal(t, 1, h.Backfill.Failed)
	require.NotNil(t, h.Stream)
	assert.EqualValues(t, 7, h.Stream.Tickers)
	assert.Equal(t, ratelimit.Status{}, h.RateLimit)
}

func TestHealthWithoutCompletedBackfill(t *testing.T) {
	facade := NewFacade(newStore(), nil,
		WithBackfillReport(func() (backfill.Report, bool) { return backfill.Report{}, false }),
	)
	assert.Nil(t, facade.Health().Backfill)
}

func TestCandlesLookup(t *testing.T) {
	store := newStore()
	_, err := store.ReplaceSeries("ETHUSDT", "1m", []market.Candle{candle(60_000, "10"), candle(120_000, "11")})
	require.NoError(t, err)
	facade := NewFacade(store, nil)

	got, ok := facade.Candles(" ethusdt ", "1m")
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "11", got[1].Close)

	_, ok = facade.Candles("ETHUSDT", "1h")
	assert.False(t, ok)
	_, ok = facade.Candles("NOPE", "1m")
	assert.False(t, ok)
	_, ok = facade.Candles("", "1m")
	assert.False(t, ok)
	_, ok = facade.Candles("ETHUSDT", "")
	assert.False(t, ok)
}

func TestTickersSnapshot(t *testing.T) {
	store := newStore()
	store.UpsertTicker(market.TickerFragment{Symbol: "SOLUSDT", LastPrice: "20"})
	store.UpsertTicker(market.TickerFragment{Symbol: "BTCUSDT", LastPrice: "100"})
	facade := NewFacade(store, nil)

	tickers := facade.Tickers()
	require.Len(t, tickers, 2)
	assert.Equal(t, "BTCUSDT", tickers[0].Symbol)
	assert.Equal(t, "SOLUSDT", tickers[1].Symbol)

	got, ok := facade.Ticker("solusdt")
	require.True(t, ok)
	assert.Equal(t, 20.0, got.Price)
	_, ok = facade.Ticker("XRPUSDT")
	assert.False(t, ok)
}

func TestDiscovery(t *testing.T) {
	store := newStore()
	store.UpsertTicker(market.TickerFragment{Symbol: "BTCUSDT", LastPrice: "100", Volume: "2"})
	_, err := store.ReplaceSeries("ETHUSDT", "1h", []market.Candle{candle(3_600_000, "10")})
	require.NoError(t, err)
	facade := NewFacade(store, nil)

	d := facade.Discovery()
	assert.Equal(t, 2, d.Count)
	assert.ElementsMatch(t, []string{"1m", "1h"}, d.Timeframes)
	require.Len(t, d.Symbols, 2)

	btc := d.Symbols[0]
	assert.Equal(t, "BTCUSDT", btc.Symbol)
	assert.True(t, btc.HasTicker)
	assert.Equal(t, 100.0, btc.Price)
	assert.Equal(t, 200.0, btc.VolumeUSD)
	assert.Empty(t, btc.Series)

	eth := d.Symbols[1]
	assert.Equal(t, "ETHUSDT", eth.Symbol)
	assert.False(t, eth.HasTicker)
	require.Contains(t, eth.Series, "1h")
	assert.Equal(t, 1, eth.Series["1h"].Count)
	assert.Equal(t, 3, eth.Series["1h"].Cap)
}
