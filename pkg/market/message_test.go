package market

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerFragmentValidate(t *testing.T) {
	require.NoError(t, TickerFragment{Symbol: "BTCUSDT", LastPrice: "67500.10"}.Validate())
	require.NoError(t, TickerFragment{Symbol: "ethusdt"}.Validate(), "absent fields are allowed")

	err := TickerFragment{Symbol: "BTCUSDT", Volume: "lots"}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))

	err = TickerFragment{Symbol: "  ", LastPrice: "1"}.Validate()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCandleFragmentValidate(t *testing.T) {
	good := CandleFragment{Candle: Candle{
		Symbol: "BTCUSDT", Timeframe: "1h", OpenTime: 1700000000000,
		Open: "1", High: "2", Low: "0.5", Close: "1.5", Volume: "10",
	}, Closed: true}
	require.NoError(t, good.Validate())

	noTime := good
	noTime.Candle.OpenTime = 0
	assert.ErrorIs(t, noTime.Validate(), ErrMalformed)

	badClose := good
	badClose.Candle.Close = ""
	assert.ErrorIs(t, badClose.Validate(), ErrMalformed)

	noTF := good
	noTF.Candle.Timeframe = ""
	assert.ErrorIs(t, noTF.Validate(), ErrMalformed)
}

func TestTickerCloneIsDeep(t *testing.T) {
	mc := 1e9
	ch := 2.5
	orig := Ticker{Symbol: "BTCUSDT", MarketCap: &mc, Changes: map[string]*float64{"1h": &ch, "4h": nil}}

	cp := orig.Clone()
	*cp.MarketCap = 1
	*cp.Changes["1h"] = 99
	cp.Changes["8h"] = nil

	assert.Equal(t, 1e9, *orig.MarketCap)
	assert.Equal(t, 2.5, *orig.Changes["1h"])
	assert.Len(t, orig.Changes, 2)
	assert.Nil(t, cp.Changes["4h"])
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", NormalizeSymbol("  btcUsdt "))
	assert.Equal(t, "", NormalizeSymbol("   "))
	assert.Equal(t, "candle", MessageCandle.String())
}
