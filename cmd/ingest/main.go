// Command ingest runs the market-data cache without the HTTP surface and logs
// a status line periodically. With -once it runs a single backfill pass and exits.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"marketpulse/internal/cli"
	"marketpulse/internal/config"
	"marketpulse/internal/svc"
	"marketpulse/pkg/market/query"
)

const shutdownTimeout = 10 * time.Second

var (
	configFile     = flag.String("f", "etc/marketpulse.yaml", "the config file")
	statusInterval = flag.Duration("status", time.Minute, "interval between status lines")
	once           = flag.Bool("once", false, "run one backfill pass and exit")
)

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	logx.MustSetup(cfg.Log)
	logx.DisableStat()
	cli.LogConfigSummary(cfg)
	svcCtx := svc.MustNewServiceContext(*cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		report := svcCtx.Market.Backfill(ctx)
		logx.Infof("ingest: backfill pairs=%d ok=%d skipped=%d failed=%d",
			report.Pairs, report.Succeeded, report.Skipped, report.Failed)
		if report.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	logx.Must(svcCtx.Market.Start(ctx))
	logx.Info("ingest: running, press Ctrl+C to stop")
	runStatus(ctx, svcCtx.Query, *statusInterval)

	logx.Info("ingest: shutdown signal received")
	done := make(chan struct{})
	go func() {
		svcCtx.Market.Stop()
		close(done)
	}()
	select {
	case <-done:
		logx.Info("ingest: stopped cleanly")
	case <-time.After(shutdownTimeout):
		logx.Error("ingest: shutdown timeout exceeded, forcing exit")
	}
}

func runStatus(ctx context.Context, facade *query.Facade, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logStatus(facade.Health())
		}
	}
}

func logStatus(h query.Health) {
	logx.Infof("ingest: status=%s tickers=%d series=%v rate_limit=%d/%d",
		h.Status, h.Tickers, h.Series, h.RateLimit.Count, h.RateLimit.Limit)
	if h.Stream != nil {
		logx.Infof("ingest: stream tickers=%d candles=%d open_skips=%d stale=%d malformed=%d",
			h.Stream.Tickers, h.Stream.Candles, h.Stream.OpenSkips, h.Stream.Stale, h.Stream.Malformed)
	}
	if h.Backfill != nil {
		logx.Infof("ingest: last backfill ok=%d skipped=%d failed=%d finished=%s",
			h.Backfill.Succeeded, h.Backfill.Skipped, h.Backfill.Failed, h.Backfill.Finished.Format(time.RFC3339))
	}
}
