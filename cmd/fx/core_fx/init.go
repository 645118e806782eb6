package core_fx

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"skillmart/internal/config"
	"skillmart/pkg/logger"
	"skillmart/pkg/metrics"
	"skillmart/pkg/utils"
)

var Module = fx.Provide(
	config.Load,
	provideLogger,
	provideClock,
	provideMetrics,
	provideTokenIssuer,
)

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.IsProduction())
}

func provideClock() utils.Clock {
	return utils.SystemClock{}
}

func provideMetrics() *metrics.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

func provideTokenIssuer(cfg *config.Config) *utils.TokenIssuer {
	return utils.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
}
