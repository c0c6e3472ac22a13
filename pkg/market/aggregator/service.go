// Package aggregator assembles the market-data cache: store, limiter, backfill,
// streaming ingestion, market-cap enrichment and the optional mirror.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"marketpulse/pkg/market"
	"marketpulse/pkg/market/backfill"
	"marketpulse/pkg/market/marketcap"
	"marketpulse/pkg/market/query"
	"marketpulse/pkg/market/ratelimit"
	"marketpulse/pkg/market/stream"
	"marketpulse/pkg/market/timeseries"
)

var (
	ErrAlreadyStarted = errors.New("aggregator: already started")
	ErrNoCapSource    = errors.New("aggregator: market cap source disabled")
)

// Option customises a Service.
type Option func(*Service)

// WithProvider replaces the provider built from configuration.
func WithProvider(p market.Provider) Option {
	return func(s *Service) { s.provider = p }
}

// WithMirror publishes snapshots to an external store every mirror interval.
func WithMirror(m market.Mirror) Option {
	return func(s *Service) { s.mirror = m }
}

// WithCapSource replaces the market-cap source built from configuration.
func WithCapSource(src marketcap.Source) Option {
	return func(s *Service) {
		s.capSource = src
		s.capSourceSet = true
	}
}

// Service owns every long-lived component.
type Service struct {
	cfg          *market.Config
	provider     market.Provider
	mirror       market.Mirror
	capSource    marketcap.Source
	capSourceSet bool

	store     *timeseries.Store
	limiter   *ratelimit.FixedWindow
	caps      *marketcap.Table
	refresher *marketcap.Refresher
	backfill  *backfill.Orchestrator
	ingestor  *stream.Ingestor
	facade    *query.Facade

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup

	reportMu   sync.RWMutex
	lastReport backfill.Report
	hasReport  bool

	mirrorMu  sync.Mutex
	published map[timeseries.SeriesKey]uint64
}

// New wires a Service from configuration.
func New(cfg *market.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("aggregator: nil market config")
	}
	s := &Service{cfg: cfg, published: make(map[timeseries.SeriesKey]uint64)}
	for _, opt := range opts {
		opt(s)
	}
	if s.provider == nil {
		provider, err := cfg.BuildDefault()
		if err != nil {
			return nil, fmt.Errorf("aggregator: build provider: %w", err)
		}
		s.provider = provider
	}
	if !s.capSourceSet {
		src, err := marketcap.NewSource(cfg.MarketCap)
		if err != nil {
			return nil, fmt.Errorf("aggregator: %w", err)
		}
		s.capSource = src
	}

	s.caps = marketcap.NewTable()
	s.store = timeseries.New(cfg.Caps(),
		timeseries.WithMarketCaps(s.caps),
		timeseries.WithHorizons(cfg.ChangeHorizons()),
	)
	s.limiter = ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	if s.capSource != nil {
		s.refresher = marketcap.NewRefresher(s.capSource, s.caps, cfg.MarketCap.Refresh, func() {
			n := s.store.RefreshEnrichment()
			logx.Debugf("aggregator: re-enriched tickers=%d", n)
		})
	}
	s.backfill = backfill.New(s.provider, s.store, s.limiter, backfill.SettingsFromConfig(cfg))

	var ingestOpts []stream.Option
	if !cfg.TrackAllTickers {
		ingestOpts = append(ingestOpts, stream.WithSymbolFilter(cfg.Symbols))
	}
	s.ingestor = stream.NewIngestor(s.provider, s.store, cfg.Symbols, cfg.TimeframeLabels(), ingestOpts...)
	s.facade = query.NewFacade(s.store, s.limiter,
		query.WithBackfillReport(s.LastBackfill),
		query.WithStreamStats(s.ingestor.Stats),
	)
	return s, nil
}

// Start launches streaming, the delayed backfill pass, market-cap refresh and
// mirroring in the background. It returns immediately.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.goSafe(func() { s.ingestor.Run(runCtx) })
	s.goSafe(func() {
		report, ok := s.backfill.RunAfter(runCtx, s.cfg.Backfill.StartupDelay)
		if ok {
			s.setReport(report)
		}
	})
	if s.refresher != nil {
		s.goSafe(func() { s.refresher.Run(runCtx) })
	}
	if s.mirror != nil && s.cfg.Mirror.Interval > 0 {
		s.goSafe(func() { s.runMirror(runCtx) })
	}
	logx.Infof("aggregator: started provider=%s symbols=%d timeframes=%v",
		s.cfg.Default, len(s.cfg.Symbols), s.cfg.TimeframeLabels())
	return nil
}

// Stop cancels background work and waits for it to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.running.Wait()
	logx.Info("aggregator: stopped")
}

func (s *Service) goSafe(fn func()) {
	s.running.Add(1)
	threading.GoSafe(func() {
		defer s.running.Done()
		fn()
	})
}

// Backfill runs one pass synchronously and records its report.
func (s *Service) Backfill(ctx context.Context) backfill.Report {
	report := s.backfill.Run(ctx)
	s.setReport(report)
	return report
}

func (s *Service) setReport(r backfill.Report) {
	s.reportMu.Lock()
	s.lastReport = r
	s.hasReport = true
	s.reportMu.Unlock()
}

// LastBackfill returns the most recent completed pass.
func (s *Service) LastBackfill() (backfill.Report, bool) {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	return s.lastReport, s.hasReport
}

// RefreshMarketCaps reloads market caps once and re-enriches tickers.
func (s *Service) RefreshMarketCaps(ctx context.Context) (int, error) {
	if s.refresher == nil {
		return 0, ErrNoCapSource
	}
	return s.refresher.Refresh(ctx)
}

// SyncMirror publishes the ticker snapshot and every series whose revision
// changed since the last sync. It returns the number of series published.
func (s *Service) SyncMirror(ctx context.Context) (int, error) {
	if s.mirror == nil {
		return 0, nil
	}
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()

	var errs []error
	if tickers := s.store.ListTickers(); len(tickers) > 0 {
		if err := s.mirror.PublishTickers(ctx, tickers); err != nil {
			errs = append(errs, err)
		}
	}
	published := 0
	for key, rev := range s.store.Revisions() {
		if s.published[key] == rev {
			continue
		}
		candles, ok := s.store.GetCandles(key.Symbol, key.Timeframe)
		if !ok {
			continue
		}
		if err := s.mirror.PublishSeries(ctx, key.Symbol, key.Timeframe, candles); err != nil {
			errs = append(errs, err)
			continue
		}
		s.published[key] = rev
		published++
	}
	return published, errors.Join(errs...)
}

func (s *Service) runMirror(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Mirror.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SyncMirror(ctx)
			if err != nil && ctx.Err() == nil {
				logx.WithContext(ctx).Errorf("aggregator: mirror sync err=%v", err)
			}
			if n > 0 {
				logx.Debugf("aggregator: mirrored series=%d", n)
			}
		}
	}
}

// Facade returns the read surface.
func (s *Service) Facade() *query.Facade { return s.facade }

// Store exposes the underlying time-series store.
func (s *Service) Store() *timeseries.Store { return s.store }

// Limiter exposes the shared REST limiter.
func (s *Service) Limiter() *ratelimit.FixedWindow { return s.limiter }

// Config returns the configuration the service was built from.
func (s *Service) Config() *market.Config { return s.cfg }
