package market

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrRateLimited indicates the upstream rejected a request with a rate-limit status.
	ErrRateLimited = errors.New("market: upstream rate limit exceeded")
	// ErrMalformed marks an inbound payload that failed decoding or validation.
	ErrMalformed = errors.New("market: malformed message")
)

// MessageKind tags the variant carried by a Message.
type MessageKind int

const (
	MessageTickers MessageKind = iota + 1
	MessageCandle
)

func (k MessageKind) String() string {
	switch k {
	case MessageTickers:
		return "tickers"
	case MessageCandle:
		return "candle"
	default:
		return "unknown"
	}
}

// TickerFragment is a partial or full 24h snapshot for one symbol. Empty fields were not sent.
type TickerFragment struct {
	Symbol             string
	LastPrice          string
	HighPrice          string
	LowPrice           string
	Volume             string
	PriceChangePercent string
	EventTime          int64
}

// CandleFragment is a streamed candle update; only Closed ones are ever stored.
type CandleFragment struct {
	Candle Candle
	Closed bool
}

// Message is the tagged variant produced at the ingestion boundary.
type Message struct {
	Kind    MessageKind
	Tickers []TickerFragment
	Candle  *CandleFragment
}

// Validate checks the fragment carries a symbol and that every present field is a decimal.
func (f TickerFragment) Validate() error {
	if NormalizeSymbol(f.Symbol) == "" {
		return fmt.Errorf("%w: ticker fragment without symbol", ErrMalformed)
	}
	fields := map[string]string{
		"last_price":           f.LastPrice,
		"high_price":           f.HighPrice,
		"low_price":            f.LowPrice,
		"volume":               f.Volume,
		"price_change_percent": f.PriceChangePercent,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if _, err := decimal.NewFromString(value); err != nil {
			return fmt.Errorf("%w: ticker %s field %s=%q", ErrMalformed, f.Symbol, name, value)
		}
	}
	return nil
}

// Validate checks identity fields and OHLCV text of a streamed candle.
func (f CandleFragment) Validate() error {
	c := f.Candle
	if NormalizeSymbol(c.Symbol) == "" || c.Timeframe == "" {
		return fmt.Errorf("%w: candle without symbol or timeframe", ErrMalformed)
	}
	if c.OpenTime <= 0 {
		return fmt.Errorf("%w: candle %s %s has no open time", ErrMalformed, c.Symbol, c.Timeframe)
	}
	for _, value := range []string{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if _, err := decimal.NewFromString(value); err != nil {
			return fmt.Errorf("%w: candle %s %s value %q", ErrMalformed, c.Symbol, c.Timeframe, value)
		}
	}
	return nil
}
