package cache

import (
	"strings"
	"time"

	"marketpulse/internal/config"
)

// Namespace is the Redis key prefix for the application.
const Namespace = "marketpulse"

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(cfg.Short, 10*time.Second),
		Medium: durationOrDefault(cfg.Medium, time.Minute),
		Long:   durationOrDefault(cfg.Long, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// TickersKey holds the full ticker snapshot.
func TickersKey() string {
	return formatKey("tickers")
}

// TickerKey holds one symbol's ticker.
func TickerKey(symbol string) string {
	return formatKey("ticker", strings.ToUpper(symbol))
}

// SeriesKey holds the retained candles of one symbol/timeframe pair.
// Timeframe labels are case-sensitive (1m vs 1M).
func SeriesKey(symbol, timeframe string) string {
	return formatKey("series", strings.ToUpper(symbol), timeframe)
}

// TickerTTL keeps tickers short-lived so a stalled mirror is visible to readers.
func TickerTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}

// SeriesTTL returns the TTL for mirrored candle series.
func SeriesTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLLong)
}

// Seconds rounds a TTL up to whole seconds for SETEX.
func Seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
