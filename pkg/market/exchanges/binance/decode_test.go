package binance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/pkg/market"
)

const tickerArrayPayload = `{"stream":"!ticker@arr","data":[
 {"e":"24hrTicker","E":1714566600000,"s":"BTCUSDT","p":"800.00","P":"1.20","w":"67000","x":"66700","c":"67500.00","Q":"0.1","b":"67499","B":"1","a":"67501","A":"1","o":"66700","h":"68000.00","l":"66000.00","v":"1234.5","q":"82000000","O":1714480200000,"C":1714566600000,"F":1,"L":2,"n":2},
 {"e":"24hrTicker","E":1714566600001,"s":"ETHUSDT","P":"-0.50","c":"3000.00","h":"3100.00","l":"2900.00","v":"5000","L":99}
]}`

func TestDecodeTickerMessage(t *testing.T) {
	msg, err := decodeTickerMessage([]byte(tickerArrayPayload))
	require.NoError(t, err)
	assert.Equal(t, market.MessageTickers, msg.Kind)
	require.Len(t, msg.Tickers, 2)

	btc := msg.Tickers[0]
	assert.Equal(t, "BTCUSDT", btc.Symbol)
	assert.Equal(t, "67500.00", btc.LastPrice)
	assert.Equal(t, "68000.00", btc.HighPrice)
	assert.Equal(t, "66000.00", btc.LowPrice, "lower-case l is the low price, not the trade id L")
	assert.Equal(t, "1234.5", btc.Volume)
	assert.Equal(t, "1.20", btc.PriceChangePercent, "upper-case P is percent, not absolute p")
	assert.Equal(t, int64(1714566600000), btc.EventTime)
	require.NoError(t, btc.Validate())
}

func TestDecodeTickerMessageWithoutEnvelope(t *testing.T) {
	msg, err := decodeTickerMessage([]byte(`[{"s":"SOLUSDT","c":"150.1"}]`))
	require.NoError(t, err)
	require.Len(t, msg.Tickers, 1)
	assert.Equal(t, "150.1", msg.Tickers[0].LastPrice)
	assert.Empty(t, msg.Tickers[0].Volume)
}

func TestDecodeKlineMessage(t *testing.T) {
	payload := `{"stream":"btcusdt@kline_1h","data":{"e":"kline","E":1714568400100,"s":"BTCUSDT","k":{
		"t":1714564800000,"T":1714568399999,"s":"BTCUSDT","i":"1h","f":100,"L":200,
		"o":"67000.00","c":"67500.00","h":"68000.00","l":"66900.00","v":"321.5","n":100,
		"x":true,"q":"1.0","V":"150.0","Q":"0.5","B":"0"}}}`
	msg, err := decodeKlineMessage([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, market.MessageCandle, msg.Kind)
	require.NotNil(t, msg.Candle)
	assert.True(t, msg.Candle.Closed)
	assert.Equal(t, market.Candle{
		Symbol: "BTCUSDT", Timeframe: "1h",
		OpenTime: 1714564800000, CloseTime: 1714568399999,
		Open: "67000.00", High: "68000.00", Low: "66900.00", Close: "67500.00", Volume: "321.5",
	}, msg.Candle.Candle)
	require.NoError(t, msg.Candle.Validate())
}

func TestDecodeKlineMessageOpenCandle(t *testing.T) {
	msg, err := decodeKlineMessage([]byte(`{"e":"kline","s":"ETHUSDT","k":{"t":1,"T":2,"i":"5m","o":"1","c":"1","h":"1","l":"1","v":"1","x":false}}`))
	require.NoError(t, err)
	assert.False(t, msg.Candle.Closed)
	assert.Equal(t, "ETHUSDT", msg.Candle.Candle.Symbol, "falls back to event symbol")
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]func([]byte) (market.Message, error){
		"ticker": decodeTickerMessage,
		"kline":  decodeKlineMessage,
	}
	for name, decode := range cases {
		for _, payload := range []string{"", "{", `{"stream":"x","data":"nope"}`, `42`} {
			_, err := decode([]byte(payload))
			assert.ErrorIs(t, err, market.ErrMalformed, "%s %q", name, payload)
		}
	}
	_, err := decodeKlineMessage([]byte(`{"e":"trade","s":"BTCUSDT"}`))
	assert.ErrorIs(t, err, market.ErrMalformed)
}

func TestKlineStreamsAndChunks(t *testing.T) {
	streams := klineStreams([]string{"BTCUSDT", " ", "ethusdt"}, []string{"5m", "1h"})
	assert.Equal(t, []string{"btcusdt@kline_5m", "btcusdt@kline_1h", "ethusdt@kline_5m", "ethusdt@kline_1h"}, streams)

	chunks := chunkStreams(streams, 3)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 3)
	assert.Len(t, chunks[1], 1)
	assert.Len(t, chunkStreams(streams, 0), 1)
}

func TestCombinedURL(t *testing.T) {
	cfg := defaultStreamConfig()
	cfg.baseURL = "wss://stream.example.com:9443/"
	u, err := cfg.combinedURL([]string{"!ticker@arr"})
	require.NoError(t, err)
	assert.Equal(t, "wss://stream.example.com:9443/stream?streams=!ticker@arr", u)
}
