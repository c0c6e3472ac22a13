// Package metrics holds the pure functions deriving ticker analytics from
// upstream decimal text.
package metrics

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"marketpulse/pkg/market"
)

// VolumeScoreScale multiplies the USD-volume / market-cap ratio, so a score of 1
// means one percent of market cap traded in 24h. Ranking clients depend on this
// magnitude; do not change it.
const VolumeScoreScale = 100.0

// ParseDecimal converts upstream decimal text to float64. Empty or malformed
// input yields (0, false); it never panics.
func ParseDecimal(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// PercentChange returns (newPrice-oldPrice)/oldPrice*100, or 0 when oldPrice is zero.
func PercentChange(oldPrice, newPrice float64) float64 {
	if oldPrice == 0 {
		return 0
	}
	return (newPrice - oldPrice) / oldPrice * 100
}

// RangePosition places price within [low, high] on a 0-100 scale. Equal bounds give 50.
// Out-of-range prices are not clamped.
func RangePosition(high, low, price float64) float64 {
	if high == low {
		return 50
	}
	return (price - low) / (high - low) * 100
}

// NormalizedVolumeScore returns volumeUSD*VolumeScoreScale/marketCap, or 0 without a cap.
func NormalizedVolumeScore(volumeUSD float64, marketCap *float64) float64 {
	if marketCap == nil || *marketCap == 0 {
		return 0
	}
	return volumeUSD * VolumeScoreScale / *marketCap
}

// DeriveAll recomputes every derived field from the ticker's raw text and market cap.
// Short-horizon changes need candle history and are filled in by the store.
func DeriveAll(t market.Ticker) market.Derived {
	price, _ := ParseDecimal(t.Raw.LastPrice)
	change, _ := ParseDecimal(t.Raw.PriceChangePercent)
	high, _ := ParseDecimal(t.Raw.HighPrice)
	low, _ := ParseDecimal(t.Raw.LowPrice)
	volume, _ := ParseDecimal(t.Raw.Volume)

	volumeUSD := volume * price
	return market.Derived{
		Price:            price,
		Change24h:        change,
		High24h:          high,
		Low24h:           low,
		VolumeBase:       volume,
		VolumeUSD:        volumeUSD,
		RangePosition24h: RangePosition(high, low, price),
		VolumeScore:      NormalizedVolumeScore(volumeUSD, t.MarketCap),
	}
}
