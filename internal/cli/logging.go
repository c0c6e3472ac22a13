package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"marketpulse/internal/config"
	"marketpulse/pkg/confkit"
	"marketpulse/pkg/market"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Listen: %s:%d", cfg.Host, cfg.Port),
		fmt.Sprintf("Redis mirror: %s", presence(cfg.RedisEnabled())),
		fmt.Sprintf("TTL (short/medium/long): %ds / %ds / %ds", cfg.TTL.Short, cfg.TTL.Medium, cfg.TTL.Long),
		sectionLine("Market config", cfg.Market),
	}
	if m := cfg.Market.Value; m != nil {
		lines = append(lines, MarketSummaryLines(m)...)
	}
	return lines
}

// MarketSummaryLines describes the market section.
func MarketSummaryLines(m *market.Config) []string {
	symbols := "all streamed"
	if !m.TrackAllTickers {
		symbols = fmt.Sprintf("%d configured", len(m.Symbols))
	}
	capSource := m.MarketCap.Source
	if capSource == "" {
		capSource = "disabled"
	}
	return []string{
		fmt.Sprintf("Market provider: %s", m.Default),
		fmt.Sprintf("Tickers: %s", symbols),
		fmt.Sprintf("Timeframes: %s", strings.Join(m.TimeframeLabels(), ",")),
		fmt.Sprintf("Rate limit: %d per %s", m.RateLimit.MaxRequests, m.RateLimit.Window),
		fmt.Sprintf("Backfill: limit=%d startup_delay=%s", m.Backfill.Limit, m.Backfill.StartupDelay),
		fmt.Sprintf("Market caps: %s", capSource),
	}
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	src := section.Source()
	if src == "" {
		src = "not configured"
	}
	return fmt.Sprintf("%s: %s", name, src)
}
