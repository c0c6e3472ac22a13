// Package mirror publishes cache snapshots to Redis so other processes can read
// them without talking to the aggregator.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	cachekeys "marketpulse/internal/cache"
	"marketpulse/pkg/market"
)

// kvStore is the subset of *redis.Redis the mirror needs.
type kvStore interface {
	SetexCtx(ctx context.Context, key, value string, seconds int) error
}

// Service implements market.Mirror on top of a Redis-like store.
type Service struct {
	kv  kvStore
	ttl cachekeys.TTLSet
	now func() time.Time
}

// Config enumerates mirror dependencies.
type Config struct {
	Store kvStore
	TTL   cachekeys.TTLSet
}

// NewService returns nil when no store is configured.
func NewService(cfg Config) *Service {
	if cfg.Store == nil {
		return nil
	}
	return &Service{kv: cfg.Store, ttl: cfg.TTL, now: time.Now}
}

var _ market.Mirror = (*Service)(nil)

type tickersPayload struct {
	UpdatedAt int64           `json:"updated_at"`
	Count     int             `json:"count"`
	Tickers   []market.Ticker `json:"tickers"`
}

type seriesPayload struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	UpdatedAt int64           `json:"updated_at"`
	Count     int             `json:"count"`
	Candles   []market.Candle `json:"candles"`
}

// PublishTickers writes the snapshot key and one key per ticker.
// Per-ticker failures are logged and do not stop the rest.
func (s *Service) PublishTickers(ctx context.Context, tickers []market.Ticker) error {
	if s == nil || len(tickers) == 0 {
		return nil
	}
	seconds := cachekeys.Seconds(cachekeys.TickerTTL(s.ttl))
	if seconds <= 0 {
		return nil
	}
	snapshot := tickersPayload{UpdatedAt: s.now().UnixMilli(), Count: len(tickers), Tickers: tickers}
	if err := s.setJSON(ctx, cachekeys.TickersKey(), snapshot, seconds); err != nil {
		return err
	}
	var errs []error
	for _, t := range tickers {
		key := cachekeys.TickerKey(t.Symbol)
		if err := s.setJSON(ctx, key, t, seconds); err != nil {
			logx.WithContext(ctx).Errorf("mirror: ticker key=%s err=%v", key, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishSeries writes one symbol/timeframe series.
func (s *Service) PublishSeries(ctx context.Context, symbol, timeframe string, candles []market.Candle) error {
	if s == nil {
		return nil
	}
	seconds := cachekeys.Seconds(cachekeys.SeriesTTL(s.ttl))
	if seconds <= 0 {
		return nil
	}
	payload := seriesPayload{
		Symbol:    symbol,
		Timeframe: timeframe,
		UpdatedAt: s.now().UnixMilli(),
		Count:     len(candles),
		Candles:   candles,
	}
	return s.setJSON(ctx, cachekeys.SeriesKey(symbol, timeframe), payload, seconds)
}

func (s *Service) setJSON(ctx context.Context, key string, v any, seconds int) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mirror: encode %s: %w", key, err)
	}
	if err := s.kv.SetexCtx(ctx, key, string(body), seconds); err != nil {
		return fmt.Errorf("mirror: set %s: %w", key, err)
	}
	return nil
}
