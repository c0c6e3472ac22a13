// Package marketcap keeps the symbol → market-cap table used to enrich tickers.
package marketcap

import (
	"strings"
	"sync"
	"time"

	"marketpulse/pkg/market"
)

// quoteAssets are stripped from trading symbols to find the base asset, longest first.
var quoteAssets = []string{"FDUSD", "USDT", "USDC", "BUSD", "USD"}

// BaseAsset returns the base asset of a trading symbol ("BTCUSDT" → "BTC").
func BaseAsset(symbol string) string {
	symbol = market.NormalizeSymbol(symbol)
	for _, quote := range quoteAssets {
		if len(symbol) > len(quote) && strings.HasSuffix(symbol, quote) {
			return symbol[:len(symbol)-len(quote)]
		}
	}
	return symbol
}

// Table is a concurrency-safe market-cap lookup keyed by base asset.
type Table struct {
	mu      sync.RWMutex
	caps    map[string]float64
	updated time.Time
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{caps: make(map[string]float64)}
}

// Replace swaps in a new set of caps keyed by asset.
func (t *Table) Replace(caps map[string]float64) {
	next := make(map[string]float64, len(caps))
	for asset, value := range caps {
		if value <= 0 {
			continue
		}
		next[market.NormalizeSymbol(asset)] = value
	}
	t.mu.Lock()
	t.caps = next
	t.updated = time.Now()
	t.mu.Unlock()
}

// MarketCap implements market.CapLookup. The full symbol is tried before its base asset.
func (t *Table) MarketCap(symbol string) (float64, bool) {
	symbol = market.NormalizeSymbol(symbol)
	t.mu.RLock()
	defer t.mu.RUnlock()
	if v, ok := t.caps[symbol]; ok {
		return v, true
	}
	v, ok := t.caps[BaseAsset(symbol)]
	return v, ok
}

// Len reports how many assets have a cap.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.caps)
}

// UpdatedAt is the time of the last Replace.
func (t *Table) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updated
}
