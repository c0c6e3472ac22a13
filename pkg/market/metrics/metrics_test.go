package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"marketpulse/pkg/market"
)

func TestPercentChange(t *testing.T) {
	tests := []struct {
		name     string
		old, new float64
		want     float64
	}{
		{"rise", 100, 110, 10},
		{"fall", 200, 150, -25},
		{"zero old", 0, 42, 0},
		{"zero old negative new", 0, -5, 0},
		{"negative old", -10, -5, -50},
		{"unchanged", 3.5, 3.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PercentChange(tt.old, tt.new), 1e-9)
		})
	}
}

func TestRangePosition(t *testing.T) {
	assert.InDelta(t, 75.0, RangePosition(68000, 66000, 67500), 1e-9)
	assert.Equal(t, 50.0, RangePosition(10, 10, 10))
	assert.Equal(t, 50.0, RangePosition(0, 0, 123), "equal bounds ignore price")
	assert.InDelta(t, 0.0, RangePosition(2, 1, 1), 1e-9)
	assert.InDelta(t, 100.0, RangePosition(2, 1, 2), 1e-9)
	// out-of-range prices are reported as-is
	assert.InDelta(t, 150.0, RangePosition(2, 1, 2.5), 1e-9)
	assert.InDelta(t, -100.0, RangePosition(2, 1, 0), 1e-9)
}

func TestRangePositionWithinBounds(t *testing.T) {
	for i := 0; i <= 100; i++ {
		low, high := 90.0, 110.0
		price := low + (high-low)*float64(i)/100
		pos := RangePosition(high, low, price)
		assert.GreaterOrEqual(t, pos, 0.0)
		assert.LessOrEqual(t, pos, 100.0+1e-9)
	}
}

func TestNormalizedVolumeScore(t *testing.T) {
	zero := 0.0
	assert.Equal(t, 0.0, NormalizedVolumeScore(1e9, nil))
	assert.Equal(t, 0.0, NormalizedVolumeScore(1e9, &zero))
	assert.Equal(t, 0.0, NormalizedVolumeScore(-4, nil))

	mc := 1e12
	assert.InDelta(t, 2.0, NormalizedVolumeScore(2e10, &mc), 1e-9)
}

func TestParseDecimal(t *testing.T) {
	v, ok := ParseDecimal("67500.12000000")
	assert.True(t, ok)
	assert.InDelta(t, 67500.12, v, 1e-9)

	v, ok = ParseDecimal("-1.5")
	assert.True(t, ok)
	assert.Equal(t, -1.5, v)

	for _, bad := range []string{"", "  ", "abc", "1.2.3", "NaN"} {
		v, ok := ParseDecimal(bad)
		assert.False(t, ok, bad)
		assert.Equal(t, 0.0, v, bad)
	}
}

func TestDeriveAll(t *testing.T) {
	mc := 1.3e12
	ticker := market.Ticker{
		Symbol: "BTCUSDT",
		Raw: market.RawTicker{
			LastPrice:          "67500",
			HighPrice:          "68000",
			LowPrice:           "66000",
			Volume:             "12345.678",
			PriceChangePercent: "-1.25",
		},
		MarketCap: &mc,
	}
	d := DeriveAll(ticker)
	assert.Equal(t, 67500.0, d.Price)
	assert.Equal(t, -1.25, d.Change24h)
	assert.Equal(t, 68000.0, d.High24h)
	assert.Equal(t, 66000.0, d.Low24h)
	assert.InDelta(t, 75.0, d.RangePosition24h, 1e-9)
	assert.InDelta(t, d.VolumeBase*d.Price, d.VolumeUSD, 0.01)
	assert.InDelta(t, d.VolumeUSD*VolumeScoreScale/mc, d.VolumeScore, 1e-12)
}

func TestDeriveAllIsTotal(t *testing.T) {
	d := DeriveAll(market.Ticker{Raw: market.RawTicker{LastPrice: "garbage", Volume: "-3"}})
	assert.Equal(t, 0.0, d.Price)
	assert.Equal(t, 50.0, d.RangePosition24h)
	assert.Equal(t, 0.0, d.VolumeScore)
	assert.False(t, math.IsNaN(d.VolumeUSD))
}
