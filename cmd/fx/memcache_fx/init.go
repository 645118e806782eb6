package memcache_fx

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"skillmart/internal/config"
	"skillmart/internal/infra"
	mem "skillmart/pkg/memcache"
)

const janitorInterval = time.Minute

var Module = fx.Options(
	fx.Provide(provideStore),
	fx.Provide(
		func(s store) mem.Deduper { return s },
		func(s store) mem.Lease { return s },
	),
)

type store interface {
	mem.Deduper
	mem.Lease
}

// provideStore uses Redis when REDIS_ADDR is set so dedup and the sweep lease are shared
// across instances; otherwise an in-process TTLStore.
func provideStore(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (store, error) {
	if cfg.RedisAddr == "" {
		s := mem.NewTTLStore()
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				s.Start(janitorInterval)
				return nil
			},
			OnStop: func(context.Context) error {
				s.Stop()
				return nil
			},
		})
		log.Info("using in-process dedup store")
		return s, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rdb, err := infra.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return rdb.Close()
		},
	})
	log.Info("using redis dedup store", zap.String("addr", cfg.RedisAddr))
	return infra.NewRedisStore(rdb, "skillmart"), nil
}
