package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/rest/pathvar"

	"marketpulse/internal/svc"
	"marketpulse/internal/types"
	"marketpulse/pkg/market"
	"marketpulse/pkg/market/query"
	"marketpulse/pkg/market/ratelimit"
	"marketpulse/pkg/market/timeseries"
)

func newServiceContext(t *testing.T) *svc.ServiceContext {
	t.Helper()
	store := timeseries.New(map[string]int{"1m": 10})
	store.UpsertTicker(market.TickerFragment{Symbol: "BTCUSDT", LastPrice: "100", HighPrice: "110", LowPrice: "90"})
	candles := make([]market.Candle, 0, 3)
	for i := int64(1); i <= 3; i++ {
		candles = append(candles, market.Candle{
			OpenTime: i * 60_000, CloseTime: (i+1)*60_000 - 1,
			Open: "1", High: "1", Low: "1", Close: "1", Volume: "1",
		})
	}
	_, err := store.ReplaceSeries("BTCUSDT", "1m", candles)
	require.NoError(t, err)
	return &svc.ServiceContext{Query: query.NewFacade(store, ratelimit.New(50, time.Minute))}
}

func serve(h http.HandlerFunc, target string, vars map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if vars != nil {
		req = pathvar.WithVars(req, vars)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestHealthHandler(t *testing.T) {
	rec := serve(HealthHandler(newServiceContext(t)), "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["tickers"])
	assert.Contains(t, body, "rate_limit")
}

func TestTickersHandler(t *testing.T) {
	rec := serve(TickersHandler(newServiceContext(t)), "/api/tickers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body types.TickersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "BTCUSDT", body.Tickers[0].Symbol)
	assert.Equal(t, 50.0, body.Tickers[0].RangePosition24h)
}

func TestTickerHandler(t *testing.T) {
	svcCtx := newServiceContext(t)

	rec := serve(TickerHandler(svcCtx), "/api/tickers/btcusdt", map[string]string{"symbol": "btcusdt"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body types.TickerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 100.0, body.Price)

	rec = serve(TickerHandler(svcCtx), "/api/tickers/xrpusdt", map[string]string{"symbol": "xrpusdt"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCandlesHandler(t *testing.T) {
	svcCtx := newServiceContext(t)

	tests := []struct {
		name   string
		target string
		vars   map[string]string
		code   int
		count  int
	}{
		{name: "full series", target: "/api/candles/btcusdt/1m", vars: map[string]string{"symbol": "btcusdt", "timeframe": "1m"}, code: http.StatusOK, count: 3},
		{name: "limited", target: "/api/candles/BTCUSDT/1m?limit=2", vars: map[string]string{"symbol": "BTCUSDT", "timeframe": "1m"}, code: http.StatusOK, count: 2},
		{name: "unknown timeframe", target: "/api/candles/BTCUSDT/4h", vars: map[string]string{"symbol": "BTCUSDT", "timeframe": "4h"}, code: http.StatusNotFound},
		{name: "unknown symbol", target: "/api/candles/DOGEUSDT/1m", vars: map[string]string{"symbol": "DOGEUSDT", "timeframe": "1m"}, code: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(CandlesHandler(svcCtx), tt.target, tt.vars)
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				var errBody types.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
				assert.Equal(t, http.StatusNotFound, errBody.Code)
				return
			}
			var body types.CandlesResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "BTCUSDT", body.Symbol)
			assert.Equal(t, tt.count, body.Count)
			assert.Equal(t, int64(3*60_000), body.Candles[len(body.Candles)-1].OpenTime)
		})
	}
}

func TestDiscoveryHandler(t *testing.T) {
	rec := serve(DiscoveryHandler(newServiceContext(t)), "/api/discovery", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body types.DiscoveryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Symbols, 1)
	assert.Equal(t, 3, body.Symbols[0].Series["1m"].Count)
}
