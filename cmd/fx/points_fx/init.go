package points_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"skillmart/internal/config"
	"skillmart/internal/repositories"
	"skillmart/internal/services"
	"skillmart/pkg/utils"
)

var Module = fx.Provide(
	providePointsRepo, providePointsService)

func providePointsRepo(db *gorm.DB) repositories.PointsRepository {
	return repositories.NewPointsRepository(db)
}

func providePointsService(repo repositories.PointsRepository, cfg *config.Config, clock utils.Clock, log *zap.Logger) services.PointsServiceInterface {
	return services.NewPointsService(repo, clock, cfg.PointsDailyCaps, log)
}
