package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"marketpulse/internal/config"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "marketpulse:tickers", TickersKey())
	assert.Equal(t, "marketpulse:ticker:BTCUSDT", TickerKey("btcusdt"))
	assert.Equal(t, "marketpulse:series:ETHUSDT:1M", SeriesKey("ethusdt", "1M"))
	assert.Equal(t, "marketpulse:series:ETHUSDT:1m", SeriesKey("ETHUSDT", "1m"))
	assert.Equal(t, "marketpulse:series:ETHUSDT", SeriesKey("ETHUSDT", " "))
}

func TestTTLSet(t *testing.T) {
	ttl := NewTTLSet(config.CacheTTL{Short: 0, Medium: -1, Long: 30})
	assert.Equal(t, 10*time.Second, ttl.Short)
	assert.Zero(t, ttl.Medium)
	assert.Equal(t, 30*time.Second, ttl.Long)

	assert.Equal(t, ttl.Short, TickerTTL(ttl))
	assert.Equal(t, ttl.Long, SeriesTTL(ttl))
	assert.Zero(t, ttl.Duration("unknown"))
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 0, Seconds(0))
	assert.Equal(t, 1, Seconds(10*time.Millisecond))
	assert.Equal(t, 2, Seconds(1500*time.Millisecond))
	assert.Equal(t, 60, Seconds(time.Minute))
}
