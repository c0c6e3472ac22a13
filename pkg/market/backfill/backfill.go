// Package backfill fills candle history through rate-limited REST calls, one
// symbol/timeframe pair at a time.
package backfill

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/time/rate"

	"marketpulse/pkg/market"
)

// Pair outcomes recorded in a Report.
const (
	StatusOK        = "ok"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

const defaultMaxDenials = 30

var errTooManyDenials = errors.New("backfill: local rate limiter denied too many times")

// Limiter is the admission gate consulted before every outbound request.
type Limiter interface {
	TryAcquire() bool
}

// Store receives backfilled data.
type Store interface {
	ReplaceSeries(symbol, timeframe string, candles []market.Candle) (int, error)
	UpsertTicker(f market.TickerFragment) market.Ticker
}

// Settings controls one orchestration pass.
type Settings struct {
	Symbols    []string
	Timeframes []string
	Limit      int
	MaxDenials int
	// SeedTickers fetches 24h statistics first so every symbol has a ticker before streaming.
	SeedTickers bool

	InterRequestDelay time.Duration
	Cooldown          time.Duration
	RateLimitBackoff  time.Duration
	RequestTimeout    time.Duration
}

// SettingsFromConfig derives Settings from the market configuration.
func SettingsFromConfig(cfg *market.Config) Settings {
	return Settings{
		Symbols:           append([]string(nil), cfg.Symbols...),
		Timeframes:        cfg.TimeframeLabels(),
		Limit:             cfg.Backfill.Limit,
		MaxDenials:        cfg.Backfill.MaxDenials,
		SeedTickers:       true,
		InterRequestDelay: cfg.Backfill.InterRequestDelay,
		Cooldown:          cfg.Backfill.Cooldown,
		RateLimitBackoff:  cfg.Backfill.RateLimitBackoff,
		RequestTimeout:    cfg.Backfill.RequestTimeout,
	}
}

// PairResult is the outcome for one symbol/timeframe pair.
type PairResult struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Status    string `json:"status"`
	Candles   int    `json:"candles"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

// Report summarises a pass.
type Report struct {
	Started   time.Time    `json:"started"`
	Finished  time.Time    `json:"finished"`
	Pairs     int          `json:"pairs"`
	Succeeded int          `json:"succeeded"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Tickers   int          `json:"tickers"`
	Results   []PairResult `json:"results"`
}

func (r *Report) add(res PairResult) {
	r.Pairs++
	switch res.Status {
	case StatusOK:
		r.Succeeded++
	case StatusSkipped:
		r.Skipped++
	case StatusFailed:
		r.Failed++
	}
	r.Results = append(r.Results, res)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the context-aware sleep used for cooldown and backoff.
func WithSleep(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithClock overrides the clock used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator runs backfill passes. Passes never overlap.
type Orchestrator struct {
	provider market.Provider
	store    Store
	limiter  Limiter
	settings Settings
	sleep    func(ctx context.Context, d time.Duration) bool
	now      func() time.Time

	runMu sync.Mutex
}

// New builds an orchestrator.
func New(provider market.Provider, store Store, limiter Limiter, settings Settings, opts ...Option) *Orchestrator {
	if settings.MaxDenials <= 0 {
		settings.MaxDenials = defaultMaxDenials
	}
	o := &Orchestrator{
		provider: provider,
		store:    store,
		limiter:  limiter,
		settings: settings,
		sleep:    sleepWithContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunAfter waits delay and then runs a pass. It reports false if ctx ended first.
func (o *Orchestrator) RunAfter(ctx context.Context, delay time.Duration) (Report, bool) {
	if !sleepWithContext(ctx, delay) {
		return Report{}, false
	}
	return o.Run(ctx), true
}

// Run backfills every configured pair, symbols outer and timeframes inner.
// A failing pair is logged and skipped; it never aborts the pass.
func (o *Orchestrator) Run(ctx context.Context) Report {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	report := Report{Started: o.now()}
	pacer := newPacer(o.settings.InterRequestDelay)

	if o.settings.SeedTickers && len(o.settings.Symbols) > 0 {
		report.Tickers = o.seedTickers(ctx, pacer)
	}

	for _, symbol := range o.settings.Symbols {
		for _, tf := range o.settings.Timeframes {
			if ctx.Err() != nil {
				report.add(PairResult{Symbol: symbol, Timeframe: tf, Status: StatusCancelled})
				continue
			}
			report.add(o.backfillPair(ctx, pacer, symbol, tf))
		}
	}

	report.Finished = o.now()
	logx.Infof("backfill: pass done pairs=%d ok=%d skipped=%d failed=%d tickers=%d took=%s",
		report.Pairs, report.Succeeded, report.Skipped, report.Failed, report.Tickers,
		report.Finished.Sub(report.Started))
	return report
}

func (o *Orchestrator) seedTickers(ctx context.Context, pacer *rate.Limiter) int {
	denials := 0
	if err := o.acquire(ctx, pacer, &denials); err != nil {
		logx.WithContext(ctx).Errorf("backfill: seed tickers not admitted err=%v", err)
		return 0
	}
	reqCtx, cancel := o.requestContext(ctx)
	fragments, err := o.provider.Tickers(reqCtx, o.settings.Symbols)
	cancel()
	if err != nil {
		logx.WithContext(ctx).Errorf("backfill: seed tickers err=%v", err)
		return 0
	}
	seeded := 0
	for _, f := range fragments {
		if err := f.Validate(); err != nil {
			logx.WithContext(ctx).Errorf("backfill: drop ticker err=%v", err)
			continue
		}
		o.store.UpsertTicker(f)
		seeded++
	}
	return seeded
}

func (o *Orchestrator) backfillPair(ctx context.Context, pacer *rate.Limiter, symbol, tf string) PairResult {
	res := PairResult{Symbol: symbol, Timeframe: tf}
	denials := 0
	retried := false
	for {
		if err := o.acquire(ctx, pacer, &denials); err != nil {
			if errors.Is(err, errTooManyDenials) {
				logx.WithContext(ctx).Errorf("backfill: skip symbol=%s timeframe=%s denials=%d", symbol, tf, denials)
				res.Status, res.Error = StatusSkipped, err.Error()
				return res
			}
			res.Status = StatusCancelled
			return res
		}

		res.Attempts++
		reqCtx, cancel := o.requestContext(ctx)
		candles, err := o.provider.Klines(reqCtx, symbol, tf, o.settings.Limit)
		cancel()

		switch {
		case err == nil:
			n, err := o.store.ReplaceSeries(symbol, tf, candles)
			if err != nil {
				logx.WithContext(ctx).Errorf("backfill: store symbol=%s timeframe=%s err=%v", symbol, tf, err)
				res.Status, res.Error = StatusFailed, err.Error()
				return res
			}
			res.Status, res.Candles = StatusOK, n
			return res
		case ctx.Err() != nil:
			res.Status = StatusCancelled
			return res
		case errors.Is(err, market.ErrRateLimited) && !retried:
			logx.WithContext(ctx).Errorf("backfill: upstream rate limited symbol=%s timeframe=%s backoff=%s", symbol, tf, o.settings.RateLimitBackoff)
			retried = true
			if !o.sleep(ctx, o.settings.RateLimitBackoff) {
				res.Status = StatusCancelled
				return res
			}
		default:
			logx.WithContext(ctx).Errorf("backfill: klines symbol=%s timeframe=%s err=%v", symbol, tf, err)
			res.Status, res.Error = StatusFailed, err.Error()
			return res
		}
	}
}

// acquire paces the request and consults the local limiter, cooling down on denial.
func (o *Orchestrator) acquire(ctx context.Context, pacer *rate.Limiter, denials *int) error {
	for {
		if err := pacer.Wait(ctx); err != nil {
			return err
		}
		if o.limiter.TryAcquire() {
			return nil
		}
		*denials++
		if *denials > o.settings.MaxDenials {
			return errTooManyDenials
		}
		if !o.sleep(ctx, o.settings.Cooldown) {
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.settings.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.settings.RequestTimeout)
}

// newPacer admits the first request immediately and spaces later ones by delay.
func newPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
