package binance

import (
	"bytes"
	"encoding/json"
	"fmt"

	"marketpulse/pkg/market"
)

// Binance payloads use keys that differ only by case ("l" price vs "L" trade id),
// which encoding/json would fold together, so fields are picked from a raw map.
type rawFields map[string]json.RawMessage

func (f rawFields) text(key string) string {
	raw, ok := f[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (f rawFields) integer(key string) (int64, bool) {
	raw, ok := f[key]
	if !ok {
		return 0, false
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func (f rawFields) flag(key string) bool {
	raw, ok := f[key]
	if !ok {
		return false
	}
	var v bool
	_ = json.Unmarshal(raw, &v)
	return v
}

// unwrap strips the combined-stream envelope {"stream": ..., "data": ...} when present.
func unwrap(payload []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", market.ErrMalformed)
	}
	if trimmed[0] != '{' {
		return trimmed, nil
	}
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", market.ErrMalformed, err)
	}
	if env.Stream != "" && len(env.Data) > 0 {
		return env.Data, nil
	}
	return trimmed, nil
}

// decodeTickerMessage turns a !ticker@arr payload into a ticker batch.
func decodeTickerMessage(payload []byte) (market.Message, error) {
	data, err := unwrap(payload)
	if err != nil {
		return market.Message{}, err
	}
	var items []rawFields
	if err := json.Unmarshal(data, &items); err != nil {
		return market.Message{}, fmt.Errorf("%w: ticker array: %v", market.ErrMalformed, err)
	}
	fragments := make([]market.TickerFragment, 0, len(items))
	for _, item := range items {
		eventTime, _ := item.integer("E")
		fragments = append(fragments, market.TickerFragment{
			Symbol:             item.text("s"),
			LastPrice:          item.text("c"),
			HighPrice:          item.text("h"),
			LowPrice:           item.text("l"),
			Volume:             item.text("v"),
			PriceChangePercent: item.text("P"),
			EventTime:          eventTime,
		})
	}
	return market.Message{Kind: market.MessageTickers, Tickers: fragments}, nil
}

// decodeKlineMessage turns a <symbol>@kline_<interval> payload into a candle fragment.
func decodeKlineMessage(payload []byte) (market.Message, error) {
	data, err := unwrap(payload)
	if err != nil {
		return market.Message{}, err
	}
	var event rawFields
	if err := json.Unmarshal(data, &event); err != nil {
		return market.Message{}, fmt.Errorf("%w: kline event: %v", market.ErrMalformed, err)
	}
	if kind := event.text("e"); kind != "kline" {
		return market.Message{}, fmt.Errorf("%w: unexpected event type %q", market.ErrMalformed, kind)
	}
	var k rawFields
	if err := json.Unmarshal(event["k"], &k); err != nil {
		return market.Message{}, fmt.Errorf("%w: kline body: %v", market.ErrMalformed, err)
	}
	openTime, _ := k.integer("t")
	closeTime, _ := k.integer("T")
	symbol := k.text("s")
	if symbol == "" {
		symbol = event.text("s")
	}
	fragment := &market.CandleFragment{
		Candle: market.Candle{
			Symbol:    market.NormalizeSymbol(symbol),
			Timeframe: k.text("i"),
			OpenTime:  openTime,
			CloseTime: closeTime,
			Open:      k.text("o"),
			High:      k.text("h"),
			Low:       k.text("l"),
			Close:     k.text("c"),
			Volume:    k.text("v"),
		},
		Closed: k.flag("x"),
	}
	return market.Message{Kind: market.MessageCandle, Candle: fragment}, nil
}
