package svc

import (
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"

	cachekeys "marketpulse/internal/cache"
	"marketpulse/internal/config"
	"marketpulse/internal/mirror"
	"marketpulse/pkg/market/aggregator"
	_ "marketpulse/pkg/market/exchanges/binance"
	"marketpulse/pkg/market/query"
)

type ServiceContext struct {
	Config config.Config

	Market *aggregator.Service
	Query  *query.Facade

	// Optional; nil without a Redis host.
	Redis  *redis.Redis
	Mirror *mirror.Service
}

func NewServiceContext(c config.Config, opts ...aggregator.Option) (*ServiceContext, error) {
	marketCfg, err := c.MarketConfig()
	if err != nil {
		return nil, fmt.Errorf("svc: market config: %w", err)
	}

	svc := &ServiceContext{Config: c}
	if c.RedisEnabled() {
		svc.Redis = redis.MustNewRedis(c.Redis)
		svc.Mirror = mirror.NewService(mirror.Config{
			Store: svc.Redis,
			TTL:   cachekeys.NewTTLSet(c.TTL),
		})
		opts = append([]aggregator.Option{aggregator.WithMirror(svc.Mirror)}, opts...)
		logx.Infof("svc: mirroring to redis host=%s", c.Redis.Host)
	}

	agg, err := aggregator.New(marketCfg, opts...)
	if err != nil {
		return nil, err
	}
	svc.Market = agg
	svc.Query = agg.Facade()
	return svc, nil
}

// MustNewServiceContext is NewServiceContext that exits on error.
func MustNewServiceContext(c config.Config, opts ...aggregator.Option) *ServiceContext {
	svc, err := NewServiceContext(c, opts...)
	logx.Must(err)
	return svc
}
