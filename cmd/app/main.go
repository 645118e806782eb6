package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"skillmart/cmd/fx/controllers_fx"
	"skillmart/cmd/fx/core_fx"
	"skillmart/cmd/fx/coupon_fx"
	"skillmart/cmd/fx/db_fx"
	"skillmart/cmd/fx/events_fx"
	"skillmart/cmd/fx/memcache_fx"
	"skillmart/cmd/fx/order_fx"
	"skillmart/cmd/fx/payment_service_fx"
	"skillmart/cmd/fx/points_fx"
	"skillmart/cmd/fx/sweeper_fx"
	"skillmart/internal/config"
	"skillmart/pkg/middleware"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		core_fx.Module,
		db_fx.Module,
		memcache_fx.Module,
		events_fx.Module,
		points_fx.Module,
		coupon_fx.Module,
		order_fx.Module,
		payment_service_fx.Module,
		sweeper_fx.Module,
		controllers_fx.Module,

		fx.Provide(ProvideRateLimiter),
		fx.Provide(ProvideRouter),
		fx.Invoke(StartServer),
	)

	app.Run()
}

func ProvideRateLimiter(lc fx.Lifecycle, cfg *config.Config) *middleware.RateLimiter {
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			limiter.Start(time.Minute)
			return nil
		},
		OnStop: func(context.Context) error {
			limiter.Stop()
			return nil
		},
	})
	return limiter
}

func StartServer(lc fx.Lifecycle, cfg *config.Config, engine *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("starting HTTP server", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("HTTP server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping HTTP server")
			return srv.Shutdown(ctx)
		},
	})
}
