package marketcap

import (
	"context"
	"fmt"

	"marketpulse/pkg/market"
)

// Source produces a full asset → market-cap mapping.
type Source interface {
	Fetch(ctx context.Context) (map[string]float64, error)
}

// StaticSource serves a fixed table, typically from configuration.
type StaticSource map[string]float64

// Fetch returns a copy of the table.
func (s StaticSource) Fetch(context.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// NewSource builds the source selected by configuration. It returns nil when disabled.
func NewSource(cfg market.MarketCapConfig) (Source, error) {
	switch cfg.Source {
	case "":
		return nil, nil
	case market.MarketCapSourceStatic:
		return StaticSource(cfg.Table), nil
	case market.MarketCapSourceCoinGecko:
		return NewCoinGecko(cfg.BaseURL, WithPaging(cfg.PerPage, cfg.Pages)), nil
	default:
		return nil, fmt.Errorf("marketcap: unsupported source %q", cfg.Source)
	}
}
