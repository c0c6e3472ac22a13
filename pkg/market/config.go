package market

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"marketpulse/pkg/confkit"
)

// Config describes upstream providers together with the aggregation policy.
type Config struct {
	Default   string                     `yaml:"default"`
	Providers map[string]*ProviderConfig `yaml:"providers"`

	Symbols []string `yaml:"symbols"`
	// TrackAllTickers keeps every symbol from the consolidated feed instead of only Symbols.
	TrackAllTickers bool `yaml:"track_all_tickers"`

	Timeframes []TimeframeConfig `yaml:"timeframes"`
	Horizons   []HorizonConfig   `yaml:"horizons"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Backfill  BackfillConfig  `yaml:"backfill"`
	MarketCap MarketCapConfig `yaml:"market_cap"`
	Mirror    MirrorConfig    `yaml:"mirror"`
}

// ProviderConfig represents configuration for a single market provider.
type ProviderConfig struct {
	Type string `yaml:"type"`

	BaseURL   string `yaml:"base_url"`
	StreamURL string `yaml:"stream_url"`

	TimeoutRaw     string        `yaml:"timeout"`
	Timeout        time.Duration `yaml:"-"`
	HTTPTimeoutRaw string        `yaml:"http_timeout"`
	HTTPTimeout    time.Duration `yaml:"-"`
	MaxRetries     int           `yaml:"max_retries"`

	MaxStreamsPerConnection int `yaml:"max_streams_per_connection"`
}

// TimeframeConfig declares one candle series per symbol and its retention cap.
type TimeframeConfig struct {
	Label string `yaml:"label"`
	Cap   int    `yaml:"cap"`
}

// HorizonConfig maps a change horizon onto a timeframe offset.
type HorizonConfig struct {
	Name      string `yaml:"name"`
	Timeframe string `yaml:"timeframe"`
	Offset    int    `yaml:"offset"`
}

// RateLimitConfig bounds outbound REST requests per fixed window.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	WindowRaw   string        `yaml:"window"`
	Window      time.Duration `yaml:"-"`
}

// BackfillConfig tunes the historical backfill pass.
type BackfillConfig struct {
	Limit      int `yaml:"limit"`
	MaxDenials int `yaml:"max_denials"`

	StartupDelayRaw      string        `yaml:"startup_delay"`
	StartupDelay         time.Duration `yaml:"-"`
	InterRequestDelayRaw string        `yaml:"inter_request_delay"`
	InterRequestDelay    time.Duration `yaml:"-"`
	CooldownRaw          string        `yaml:"cooldown"`
	Cooldown             time.Duration `yaml:"-"`
	RateLimitBackoffRaw  string        `yaml:"rate_limit_backoff"`
	RateLimitBackoff     time.Duration `yaml:"-"`
	RequestTimeoutRaw    string        `yaml:"request_timeout"`
	RequestTimeout       time.Duration `yaml:"-"`
}

// MarketCapConfig selects where market capitalisations come from.
type MarketCapConfig struct {
	Source     string             `yaml:"source"` // "", static or coingecko
	BaseURL    string             `yaml:"base_url"`
	PerPage    int                `yaml:"per_page"`
	Pages      int                `yaml:"pages"`
	RefreshRaw string             `yaml:"refresh"`
	Refresh    time.Duration      `yaml:"-"`
	Table      map[string]float64 `yaml:"table"`
}

// MirrorConfig controls how often state is pushed to the external cache.
type MirrorConfig struct {
	IntervalRaw string        `yaml:"interval"`
	Interval    time.Duration `yaml:"-"`
}

const (
	MarketCapSourceStatic    = "static"
	MarketCapSourceCoinGecko = "coingecko"
)

// MaxBackfillLimit is the most candles a single kline request may return.
const MaxBackfillLimit = 1000

// DefaultTimeframes is used when the config declares none.
var DefaultTimeframes = []TimeframeConfig{
	{Label: "5m", Cap: 288},
	{Label: "1h", Cap: 168},
	{Label: "4h", Cap: 90},
}

// DefaultHorizons is used when the config declares none.
var DefaultHorizons = []HorizonConfig{
	{Name: "1h", Timeframe: "5m", Offset: 12},
	{Name: "4h", Timeframe: "1h", Offset: 4},
	{Name: "8h", Timeframe: "1h", Offset: 8},
	{Name: "12h", Timeframe: "4h", Offset: 3},
}

// ProviderBuilder constructs a Provider from configuration.
type ProviderBuilder func(name string, cfg *ProviderConfig) (Provider, error)

var (
	providerRegistry   = make(map[string]ProviderBuilder)
	providerRegistryMu sync.RWMutex
)

// RegisterProvider registers a market provider constructor.
func RegisterProvider(typeName string, builder ProviderBuilder) {
	providerRegistryMu.Lock()
	defer providerRegistryMu.Unlock()
	providerRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupProviderBuilder(typeName string) (ProviderBuilder, bool) {
	providerRegistryMu.RLock()
	defer providerRegistryMu.RUnlock()
	builder, ok := providerRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open market config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// MustLoad reads market configuration from the default project location and panics on error.
func MustLoad() *Config {
	path := confkit.MustProjectPath("etc/market.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read market config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal market config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.Providers == nil {
		c.Providers = make(map[string]*ProviderConfig)
	}
	for name, provider := range c.Providers {
		if provider == nil {
			provider = &ProviderConfig{}
			c.Providers[name] = provider
		}
		provider.expandEnv()
		if err := provider.parseDurations(name); err != nil {
			return err
		}
	}
	if c.Default == "" && len(c.Providers) == 1 {
		for name := range c.Providers {
			c.Default = name
		}
	}

	c.Symbols = normaliseSymbols(c.Symbols)
	if len(c.Timeframes) == 0 {
		c.Timeframes = append([]TimeframeConfig(nil), DefaultTimeframes...)
	}
	for i := range c.Timeframes {
		c.Timeframes[i].Label = strings.TrimSpace(c.Timeframes[i].Label)
	}
	if len(c.Horizons) == 0 {
		c.Horizons = append([]HorizonConfig(nil), DefaultHorizons...)
	}

	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 50
	}
	if err := parseDuration("rate_limit.window", c.RateLimit.WindowRaw, time.Minute, &c.RateLimit.Window); err != nil {
		return err
	}

	b := &c.Backfill
	if b.Limit == 0 {
		b.Limit = 100
	}
	if b.MaxDenials == 0 {
		b.MaxDenials = 30
	}
	durations := []struct {
		field string
		raw   string
		def   time.Duration
		dst   *time.Duration
	}{
		{"backfill.startup_delay", b.StartupDelayRaw, 5 * time.Second, &b.StartupDelay},
		{"backfill.inter_request_delay", b.InterRequestDelayRaw, 250 * time.Millisecond, &b.InterRequestDelay},
		{"backfill.cooldown", b.CooldownRaw, 2 * time.Second, &b.Cooldown},
		{"backfill.rate_limit_backoff", b.RateLimitBackoffRaw, time.Minute, &b.RateLimitBackoff},
		{"backfill.request_timeout", b.RequestTimeoutRaw, 10 * time.Second, &b.RequestTimeout},
		{"market_cap.refresh", c.MarketCap.RefreshRaw, 10 * time.Minute, &c.MarketCap.Refresh},
		{"mirror.interval", c.Mirror.IntervalRaw, 5 * time.Second, &c.Mirror.Interval},
	}
	for _, d := range durations {
		if err := parseDuration(d.field, d.raw, d.def, d.dst); err != nil {
			return err
		}
	}

	mc := &c.MarketCap
	mc.Source = strings.ToLower(strings.TrimSpace(os.ExpandEnv(mc.Source)))
	mc.BaseURL = strings.TrimSpace(os.ExpandEnv(mc.BaseURL))
	if mc.PerPage == 0 {
		mc.PerPage = 250
	}
	if mc.Pages == 0 {
		mc.Pages = 2
	}
	if len(mc.Table) > 0 {
		table := make(map[string]float64, len(mc.Table))
		for asset, value := range mc.Table {
			table[NormalizeSymbol(asset)] = value
		}
		mc.Table = table
	}
	return nil
}

func parseDuration(field, raw string, def time.Duration, dst *time.Duration) error {
	raw = strings.TrimSpace(os.ExpandEnv(raw))
	if raw == "" {
		*dst = def
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("market config: invalid %s %q: %w", field, raw, err)
	}
	if d < 0 {
		return fmt.Errorf("market config: %s must not be negative, got %s", field, d)
	}
	*dst = d
	return nil
}

func normaliseSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = NormalizeSymbol(os.ExpandEnv(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (p *ProviderConfig) expandEnv() {
	p.Type = strings.TrimSpace(os.ExpandEnv(p.Type))
	p.BaseURL = strings.TrimSpace(os.ExpandEnv(p.BaseURL))
	p.StreamURL = strings.TrimSpace(os.ExpandEnv(p.StreamURL))
	p.TimeoutRaw = strings.TrimSpace(os.ExpandEnv(p.TimeoutRaw))
	p.HTTPTimeoutRaw = strings.TrimSpace(os.ExpandEnv(p.HTTPTimeoutRaw))
}

func (p *ProviderConfig) parseDurations(name string) error {
	if p.TimeoutRaw != "" {
		d, err := time.ParseDuration(p.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("market provider %s: invalid timeout %q: %w", name, p.TimeoutRaw, err)
		}
		if d <= 0 {
			return fmt.Errorf("market provider %s: timeout must be positive, got %s", name, d)
		}
		p.Timeout = d
	}
	if p.HTTPTimeoutRaw != "" {
		d, err := time.ParseDuration(p.HTTPTimeoutRaw)
		if err != nil {
			return fmt.Errorf("market provider %s: invalid http_timeout %q: %w", name, p.HTTPTimeoutRaw, err)
		}
		if d <= 0 {
			return fmt.Errorf("market provider %s: http_timeout must be positive, got %s", name, d)
		}
		p.HTTPTimeout = d
	}
	return nil
}

// Validate ensures the configuration is structurally sound.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("market config: providers cannot be empty")
	}
	if c.Default == "" {
		return fmt.Errorf("market config: default provider must be set when several providers are defined")
	}
	if _, ok := c.Providers[c.Default]; !ok {
		return fmt.Errorf("market config: default provider %q not defined", c.Default)
	}
	for name, provider := range c.Providers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("market config: provider name cannot be empty")
		}
		if err := provider.validate(name); err != nil {
			return err
		}
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("market config: symbols cannot be empty")
	}

	caps := make(map[string]int, len(c.Timeframes))
	for _, tf := range c.Timeframes {
		if tf.Label == "" {
			return fmt.Errorf("market config: timeframe label cannot be empty")
		}
		if _, dup := caps[tf.Label]; dup {
			return fmt.Errorf("market config: duplicate timeframe %q", tf.Label)
		}
		if tf.Cap <= 0 {
			return fmt.Errorf("market config: timeframe %s cap must be positive, got %d", tf.Label, tf.Cap)
		}
		caps[tf.Label] = tf.Cap
	}
	names := make(map[string]struct{}, len(c.Horizons))
	for _, h := range c.Horizons {
		if strings.TrimSpace(h.Name) == "" {
			return fmt.Errorf("market config: horizon name cannot be empty")
		}
		if _, dup := names[h.Name]; dup {
			return fmt.Errorf("market config: duplicate horizon %q", h.Name)
		}
		names[h.Name] = struct{}{}
		limit, ok := caps[h.Timeframe]
		if !ok {
			return fmt.Errorf("market config: horizon %s references unknown timeframe %q", h.Name, h.Timeframe)
		}
		if h.Offset < 1 || h.Offset >= limit {
			return fmt.Errorf("market config: horizon %s offset must be in [1,%d), got %d", h.Name, limit, h.Offset)
		}
	}

	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("market config: rate_limit.max_requests must be positive, got %d", c.RateLimit.MaxRequests)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("market config: rate_limit.window must be positive")
	}
	if c.Backfill.Limit <= 0 || c.Backfill.Limit > MaxBackfillLimit {
		return fmt.Errorf("market config: backfill.limit must be in [1,%d], got %d", MaxBackfillLimit, c.Backfill.Limit)
	}
	if c.Backfill.MaxDenials < 0 {
		return fmt.Errorf("market config: backfill.max_denials must not be negative")
	}

	switch c.MarketCap.Source {
	case "", MarketCapSourceStatic, MarketCapSourceCoinGecko:
	default:
		return fmt.Errorf("market config: unsupported market_cap.source %q", c.MarketCap.Source)
	}
	if c.MarketCap.Source == MarketCapSourceCoinGecko && c.MarketCap.BaseURL == "" {
		return fmt.Errorf("market config: market_cap.base_url required for coingecko")
	}
	return nil
}

func (p *ProviderConfig) validate(name string) error {
	if p == nil {
		return fmt.Errorf("market config: provider %s is nil", name)
	}
	if strings.TrimSpace(p.Type) == "" {
		return fmt.Errorf("market config: provider %s must specify type", name)
	}
	if _, ok := lookupProviderBuilder(p.Type); !ok {
		return fmt.Errorf("market config: provider %s has unsupported type %q", name, p.Type)
	}
	if p.MaxStreamsPerConnection < 0 {
		return fmt.Errorf("market config: provider %s max_streams_per_connection must not be negative", name)
	}
	return nil
}

// BuildProviders instantiates market data providers according to configuration.
func (c *Config) BuildProviders() (map[string]Provider, error) {
	result := make(map[string]Provider, len(c.Providers))
	for name, providerCfg := range c.Providers {
		builder, ok := lookupProviderBuilder(providerCfg.Type)
		if !ok {
			return nil, fmt.Errorf("market provider %s: unsupported type %q", name, providerCfg.Type)
		}
		provider, err := builder(name, providerCfg)
		if err != nil {
			return nil, fmt.Errorf("market provider %s: %w", name, err)
		}
		result[name] = provider
	}
	return result, nil
}

// BuildDefault instantiates only the default provider.
func (c *Config) BuildDefault() (Provider, error) {
	providerCfg, ok := c.Providers[c.Default]
	if !ok {
		return nil, fmt.Errorf("market config: default provider %q not defined", c.Default)
	}
	builder, ok := lookupProviderBuilder(providerCfg.Type)
	if !ok {
		return nil, fmt.Errorf("market provider %s: unsupported type %q", c.Default, providerCfg.Type)
	}
	return builder(c.Default, providerCfg)
}

// TimeframeLabels returns configured labels in declaration order.
func (c *Config) TimeframeLabels() []string {
	out := make([]string, 0, len(c.Timeframes))
	for _, tf := range c.Timeframes {
		out = append(out, tf.Label)
	}
	return out
}

// Caps returns the retention cap per timeframe label.
func (c *Config) Caps() map[string]int {
	out := make(map[string]int, len(c.Timeframes))
	for _, tf := range c.Timeframes {
		out[tf.Label] = tf.Cap
	}
	return out
}

// ChangeHorizons returns horizons sorted by name for stable output.
func (c *Config) ChangeHorizons() []Horizon {
	out := make([]Horizon, 0, len(c.Horizons))
	for _, h := range c.Horizons {
		out = append(out, Horizon{Name: h.Name, Timeframe: h.Timeframe, Offset: h.Offset})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
