package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"marketpulse/pkg/market"
)

const (
	defaultProviderTimeout = 8 * time.Second
	// Binance accepts up to 1024 streams per connection; stay well below it.
	defaultMaxStreams = 200
	tickerArrayStream = "!ticker@arr"
)

// Provider implements market.Provider on top of the Binance REST and websocket APIs.
type Provider struct {
	client     *Client
	timeout    time.Duration
	maxStreams int
	stream     streamConfig
	providerID string
}

type providerConfig struct {
	timeout      time.Duration
	maxStreams   int
	stream       streamConfig
	clientConfig []Option
}

// ProviderOption customises the Binance provider.
type ProviderOption func(*providerConfig)

// WithTimeout overrides the default per-call REST timeout.
func WithTimeout(timeout time.Duration) ProviderOption {
	return func(cfg *providerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithClientOptions passes options to the underlying REST client.
func WithClientOptions(options ...Option) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.clientConfig = append(cfg.clientConfig, options...)
	}
}

// WithStreamURL overrides the websocket base URL.
func WithStreamURL(u string) ProviderOption {
	return func(cfg *providerConfig) {
		if u != "" {
			cfg.stream.baseURL = u
		}
	}
}

// WithMaxStreamsPerConnection caps how many kline streams share one connection.
func WithMaxStreamsPerConnection(n int) ProviderOption {
	return func(cfg *providerConfig) {
		if n > 0 {
			cfg.maxStreams = n
		}
	}
}

// WithReconnectDelay sets the initial and maximum reconnect backoff.
func WithReconnectDelay(initial, maxDelay time.Duration) ProviderOption {
	return func(cfg *providerConfig) {
		if initial > 0 {
			cfg.stream.initialReconnect = initial
		}
		if maxDelay >= initial && maxDelay > 0 {
			cfg.stream.maxReconnect = maxDelay
		}
	}
}

// WithReadTimeout sets how long a silent connection is tolerated before reconnecting.
func WithReadTimeout(d time.Duration) ProviderOption {
	return func(cfg *providerConfig) {
		if d > 0 {
			cfg.stream.readTimeout = d
		}
	}
}

// NewProvider constructs a Binance market provider.
func NewProvider(opts ...ProviderOption) *Provider {
	cfg := &providerConfig{
		timeout:    defaultProviderTimeout,
		maxStreams: defaultMaxStreams,
		stream:     defaultStreamConfig(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Provider{
		client:     NewClient(cfg.clientConfig...),
		timeout:    cfg.timeout,
		maxStreams: cfg.maxStreams,
		stream:     cfg.stream,
		providerID: "binance",
	}
}

func init() {
	market.RegisterProvider("binance", func(name string, cfg *market.ProviderConfig) (market.Provider, error) {
		opts := []ProviderOption{}
		clientOptions := []Option{}
		if cfg.Timeout > 0 {
			opts = append(opts, WithTimeout(cfg.Timeout))
		}
		if cfg.HTTPTimeout > 0 {
			clientOptions = append(clientOptions, WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
		}
		if cfg.BaseURL != "" {
			clientOptions = append(clientOptions, WithBaseURL(cfg.BaseURL))
		}
		if cfg.MaxRetries > 0 {
			clientOptions = append(clientOptions, WithMaxRetries(cfg.MaxRetries))
		}
		if cfg.StreamURL != "" {
			opts = append(opts, WithStreamURL(cfg.StreamURL))
		}
		if cfg.MaxStreamsPerConnection > 0 {
			opts = append(opts, WithMaxStreamsPerConnection(cfg.MaxStreamsPerConnection))
		}
		if len(clientOptions) > 0 {
			opts = append(opts, WithClientOptions(clientOptions...))
		}
		provider := NewProvider(opts...)
		provider.providerID = name
		return provider, nil
	})
}

// Klines implements market.Provider.
func (p *Provider) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return p.client.GetKlines(ctx, symbol, timeframe, limit)
}

// Tickers implements market.Provider.
func (p *Provider) Tickers(ctx context.Context, symbols []string) ([]market.TickerFragment, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return p.client.GetTickers24h(ctx, symbols)
}

// StreamTickers subscribes to the all-market ticker array and blocks until ctx is done.
func (p *Provider) StreamTickers(ctx context.Context, handle market.MessageHandler) error {
	worker := &wsWorker{
		name:    p.providerID + "-tickers",
		streams: []string{tickerArrayStream},
		cfg:     p.stream,
		onMessage: func(payload []byte) {
			msg, err := decodeTickerMessage(payload)
			if err != nil {
				logx.Errorf("binance: drop ticker message provider=%s err=%v", p.providerID, err)
				return
			}
			handle(msg)
		},
	}
	return worker.run(ctx)
}

// StreamCandles subscribes to one kline stream per symbol/timeframe pair, spread over
// as many connections as maxStreams requires, and blocks until ctx is done.
func (p *Provider) StreamCandles(ctx context.Context, symbols, timeframes []string, handle market.MessageHandler) error {
	streams := klineStreams(symbols, timeframes)
	if len(streams) == 0 {
		return errors.New("binance: no kline streams to subscribe")
	}
	onMessage := func(payload []byte) {
		msg, err := decodeKlineMessage(payload)
		if err != nil {
			logx.Errorf("binance: drop kline message provider=%s err=%v", p.providerID, err)
			return
		}
		handle(msg)
	}

	group := threading.NewRoutineGroup()
	for i, chunk := range chunkStreams(streams, p.maxStreams) {
		worker := &wsWorker{
			name:      fmt.Sprintf("%s-klines-%d", p.providerID, i),
			streams:   chunk,
			cfg:       p.stream,
			onMessage: onMessage,
		}
		group.RunSafe(func() {
			_ = worker.run(ctx)
		})
	}
	group.Wait()
	return nil
}

func klineStreams(symbols, timeframes []string) []string {
	out := make([]string, 0, len(symbols)*len(timeframes))
	for _, symbol := range symbols {
		symbol = strings.ToLower(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		for _, tf := range timeframes {
			out = append(out, symbol+"@kline_"+tf)
		}
	}
	return out
}

func chunkStreams(streams []string, size int) [][]string {
	if size <= 0 {
		size = defaultMaxStreams
	}
	chunks := make([][]string, 0, (len(streams)+size-1)/size)
	for start := 0; start < len(streams); start += size {
		end := min(start+size, len(streams))
		chunks = append(chunks, streams[start:end])
	}
	return chunks
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, p.timeout)
}
