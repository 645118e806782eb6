package sweeper_fx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"skillmart/internal/config"
	"skillmart/internal/repositories"
	"skillmart/internal/services"
	mem "skillmart/pkg/memcache"
	"skillmart/pkg/metrics"
	"skillmart/pkg/utils"
)

var Module = fx.Options(
	fx.Provide(provideSweeper),
	fx.Invoke(startSweeper),
)

func provideSweeper(
	orderRepo repositories.OrderRepository,
	orders services.OrderServiceInterface,
	compensation services.CompensationServiceInterface,
	coupons services.CouponServiceInterface,
	lease mem.Lease,
	cfg *config.Config,
	clock utils.Clock,
	m *metrics.Metrics,
	log *zap.Logger,
) services.SweeperServiceInterface {
	return services.NewSweeperService(orderRepo, orders, compensation, coupons, lease, clock, services.SweeperOptions{
		Interval:      cfg.SweepInterval,
		Batch:         cfg.SweepBatch,
		Concurrency:   cfg.SweepConcurrency,
		PayingGrace:   cfg.PayingGrace,
		RefundRecheck: cfg.RefundRecheck,
	}, m, log)
}

func startSweeper(lc fx.Lifecycle, sweeper services.SweeperServiceInterface) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sweeper.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return sweeper.Stop(ctx)
		},
	})
}
