package order_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"skillmart/internal/config"
	"skillmart/internal/gateway"
	"skillmart/internal/repositories"
	"skillmart/internal/services"
	"skillmart/pkg/metrics"
	"skillmart/pkg/utils"
)

var Module = fx.Provide(
	provideOrderRepo,
	provideProductRepo,
	provideCompensationRepo,
	provideProductService,
	provideCompensationService,
	provideOrderService,
)

func provideOrderRepo(db *gorm.DB) repositories.OrderRepository {
	return repositories.NewOrderRepository(db)
}

func provideProductRepo(db *gorm.DB) repositories.IProductRepository {
	return repositories.NewProductRepository(db)
}

func provideCompensationRepo(db *gorm.DB) repositories.CompensationRepository {
	return repositories.NewCompensationRepository(db)
}

func provideProductService(repo repositories.IProductRepository, clock utils.Clock, log *zap.Logger) services.ProductServiceInterface {
	return services.NewProductService(repo, clock, log)
}

func provideCompensationService(
	repo repositories.CompensationRepository,
	orders repositories.OrderRepository,
	points services.PointsServiceInterface,
	coupons services.CouponServiceInterface,
	publisher services.EventPublisher,
	clock utils.Clock,
	m *metrics.Metrics,
	log *zap.Logger,
) services.CompensationServiceInterface {
	return services.NewCompensationService(repo, orders, points, coupons, publisher, clock, m, log)
}

func provideOrderService(
	orders repositories.OrderRepository,
	products repositories.IProductRepository,
	points services.PointsServiceInterface,
	coupons services.CouponServiceInterface,
	compensation services.CompensationServiceInterface,
	gateways *gateway.Registry,
	cfg *config.Config,
	clock utils.Clock,
	m *metrics.Metrics,
	log *zap.Logger,
) services.OrderServiceInterface {
	return services.NewOrderService(orders, products, points, coupons, compensation, gateways, clock, services.OrderOptions{
		Expire:        cfg.OrderExpire,
		RefundWindow:  cfg.RefundWindow,
		PointsPerYuan: cfg.PointsPerYuan,
	}, m, log)
}
