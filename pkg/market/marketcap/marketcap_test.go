package marketcap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/pkg/market"
)

func TestBaseAsset(t *testing.T) {
	tests := map[string]string{
		"BTCUSDT":  "BTC",
		"ethusdc":  "ETH",
		"SOLFDUSD": "SOL",
		"BNBBUSD":  "BNB",
		"XRPUSD":   "XRP",
		"USDCUSDT": "USDC",
		"USDT":     "USDT",
		"ETHBTC":   "ETHBTC",
	}
	for in, want := range tests {
		assert.Equal(t, want, BaseAsset(in), in)
	}
}

func TestTableLookup(t *testing.T) {
	table := NewTable()
	_, ok := table.MarketCap("BTCUSDT")
	assert.False(t, ok)

	table.Replace(map[string]float64{"btc": 1.3e12, "ETHBTC": 42, "dead": 0})
	v, ok := table.MarketCap("btcusdt")
	require.True(t, ok)
	assert.Equal(t, 1.3e12, v)

	v, ok = table.MarketCap("ETHBTC")
	require.True(t, ok, "full symbol match wins")
	assert.Equal(t, 42.0, v)

	_, ok = table.MarketCap("DEADUSDT")
	assert.False(t, ok, "non-positive caps are dropped")
	assert.Equal(t, 2, table.Len())
	assert.False(t, table.UpdatedAt().IsZero())

	var _ market.CapLookup = table
}

func TestNewSource(t *testing.T) {
	src, err := NewSource(market.MarketCapConfig{})
	require.NoError(t, err)
	assert.Nil(t, src)

	src, err = NewSource(market.MarketCapConfig{Source: market.MarketCapSourceStatic, Table: map[string]float64{"BTC": 1}})
	require.NoError(t, err)
	caps, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTC": 1}, caps)

	src, err = NewSource(market.MarketCapConfig{Source: market.MarketCapSourceCoinGecko, BaseURL: "http://example", PerPage: 10, Pages: 3})
	require.NoError(t, err)
	cg, ok := src.(*CoinGecko)
	require.True(t, ok)
	assert.Equal(t, 10, cg.perPage)
	assert.Equal(t, 3, cg.pages)

	_, err = NewSource(market.MarketCapConfig{Source: "oracle"})
	assert.Error(t, err)
}

func TestCoinGeckoFetchPages(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/markets", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		assert.Equal(t, "3", r.URL.Query().Get("per_page"))
		n := calls.Add(1)
		switch {
		case n == 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case r.URL.Query().Get("page") == "1":
			_, _ = w.Write([]byte(`[{"symbol":"btc","market_cap":1300000000000},{"symbol":"eth","market_cap":400000000000},{"symbol":"sol","market_cap":null}]`))
		default:
			_, _ = w.Write([]byte(`[{"symbol":"btc","market_cap":5}]`))
		}
	}))
	defer server.Close()

	cg := NewCoinGecko(server.URL+"/", WithPaging(3, 5), WithRetry(2, time.Millisecond, time.Millisecond))
	caps, err := cg.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTC": 1.3e12, "ETH": 4e11}, caps)
	assert.EqualValues(t, 3, calls.Load(), "429 retried, short page ends paging")
}

func TestCoinGeckoGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cg := NewCoinGecko(server.URL, WithRetry(1, time.Millisecond, time.Millisecond))
	_, err := cg.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries")
}

type failingSource struct{ err error }

func (f failingSource) Fetch(context.Context) (map[string]float64, error) { return nil, f.err }

func TestRefresher(t *testing.T) {
	table := NewTable()
	var updates atomic.Int32
	r := NewRefresher(StaticSource{"BTC": 10}, table, 0, func() { updates.Add(1) })

	n, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 1, updates.Load())

	empty := NewRefresher(StaticSource{}, table, 0, func() { updates.Add(1) })
	n, err = empty.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "empty result keeps previous table")
	assert.EqualValues(t, 1, updates.Load())

	failing := NewRefresher(failingSource{err: errors.New("down")}, table, 0, nil)
	_, err = failing.Refresh(context.Background())
	assert.ErrorContains(t, err, "down")
	v, _ := table.MarketCap("BTCUSDT")
	assert.Equal(t, 10.0, v)
}

func TestRefresherRunLoop(t *testing.T) {
	table := NewTable()
	var updates atomic.Int32
	r := NewRefresher(StaticSource{"BTC": 10}, table, 5*time.Millisecond, func() { updates.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return updates.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
