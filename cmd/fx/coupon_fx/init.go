package coupon_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"skillmart/internal/repositories"
	"skillmart/internal/services"
	"skillmart/pkg/utils"
)

var Module = fx.Provide(
	provideCouponRepo, provideCouponService)

func provideCouponRepo(db *gorm.DB) repositories.CouponRepository {
	return repositories.NewCouponRepository(db)
}

func provideCouponService(repo repositories.CouponRepository, clock utils.Clock, log *zap.Logger) services.CouponServiceInterface {
	return services.NewCouponService(repo, clock, log)
}
