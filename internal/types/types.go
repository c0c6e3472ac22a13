package types

import (
	"marketpulse/pkg/market"
	"marketpulse/pkg/market/query"
)

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type HealthResponse struct {
	query.Health
}

type TickersResponse struct {
	Count   int             `json:"count"`
	Tickers []market.Ticker `json:"tickers"`
}

type TickerRequest struct {
	Symbol string `path:"symbol"`
}

type TickerResponse struct {
	market.Ticker
}

type CandlesRequest struct {
	Symbol    string `path:"symbol"`
	Timeframe string `path:"timeframe"`
	Limit     int    `form:"limit,optional"`
}

type CandlesResponse struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Count     int             `json:"count"`
	Candles   []market.Candle `json:"candles"`
}

type DiscoveryResponse struct {
	query.Discovery
}
