package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/rest"

	"marketpulse/pkg/confkit"
	marketpkg "marketpulse/pkg/market"
)

type CacheTTL struct {
	Short  int `json:",default=10"` // seconds
	Medium int `json:",default=60"`
	Long   int `json:",default=300"`
}

var defaultTTL = CacheTTL{Short: 10, Medium: 60, Long: 300}

// withDefaults fills fields left at zero when the ttl block is omitted.
func (t CacheTTL) withDefaults() CacheTTL {
	if t.Short == 0 {
		t.Short = defaultTTL.Short
	}
	if t.Medium == 0 {
		t.Medium = defaultTTL.Medium
	}
	if t.Long == 0 {
		t.Long = defaultTTL.Long
	}
	return t
}

type Config struct {
	rest.RestConf
	// Env is one of test | dev | prod. Defaults to test.
	Env   string          `json:",default=test"`
	Redis redis.RedisConf `json:",optional"`
	TTL   CacheTTL        `json:",optional"`

	Market confkit.Section[marketpkg.Config] `json:",optional"`

	mainPath string
	baseDir  string
}

func (c *Config) IsTestEnv() bool {
	return c.Env == "test" || c.Env == ""
}

// RedisEnabled reports whether a Redis mirror target is configured.
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Redis.Host) != ""
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config
	absPath, err := confkit.LoadMain(path, &cfg)
	if err != nil {
		return nil, err
	}

	cfg.mainPath = absPath
	cfg.baseDir = filepath.Dir(absPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.hydrateSections(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	switch env {
	case "":
		c.Env = "test"
	case "test", "dev", "prod":
		c.Env = env
	default:
		return errors.New("config: env must be one of test|dev|prod")
	}
	if c.RedisEnabled() {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("config: redis: %w", err)
		}
	}
	return c.validateTTL()
}

func (c *Config) validateTTL() error {
	c.TTL = c.TTL.withDefaults()
	if c.TTL.Short <= 0 {
		return errors.New("config: ttl.short must be positive")
	}
	if c.TTL.Medium <= 0 {
		return errors.New("config: ttl.medium must be positive")
	}
	if c.TTL.Long <= 0 {
		return errors.New("config: ttl.long must be positive")
	}
	return nil
}

func (c *Config) hydrateSections() error {
	if err := c.Market.Hydrate(c.baseDir, marketpkg.LoadConfig); err != nil {
		return fmt.Errorf("load market config: %w", err)
	}
	return nil
}

// MarketConfig returns the hydrated market section, falling back to
// etc/market.yaml under the project root when the section is empty.
func (c *Config) MarketConfig() (*marketpkg.Config, error) {
	return c.Market.Resolve("etc/market.yaml", marketpkg.LoadConfig)
}

func (c *Config) MainPath() string {
	return c.mainPath
}

func (c *Config) BaseDir() string {
	return c.baseDir
}
