package events_fx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"skillmart/internal/config"
	"skillmart/internal/infra"
	"skillmart/internal/services"
)

var Module = fx.Provide(providePublisher)

func providePublisher(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (services.EventPublisher, error) {
	nc, err := infra.ConnectNats(cfg.NatsURL, log)
	if err != nil {
		return nil, err
	}
	if nc == nil {
		log.Info("NATS_URL not set, entitlement events are only logged")
		return infra.NewLogBus(log), nil
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return nc.Drain()
		},
	})
	return infra.NewNatsBus(nc, cfg.NatsSubject), nil
}
