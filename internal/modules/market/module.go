package market

import (
	"go.uber.org/fx"

	binance "signal_bot/internal/modules/binance_client/service"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/market/service"
	"signal_bot/internal/observability"
)

func newStoreConfig(cfg *config.Config) service.Config {
	return service.Config{
		Lookbacks:       cfg.Lookbacks(),
		FetchMultiplier: cfg.Market.FetchMultiplier,
		EMAPeriods:      cfg.TrackedEMAPeriods(),
		ATRPeriods:      cfg.TrackedATRPeriods(),
		InitConcurrency: cfg.Market.InitConcurrency,
	}
}

// Module — хранилище свечей и индикаторов, история грузится REST-клиентом.
func Module() fx.Option {
	return fx.Module("market",
		fx.Provide(
			newStoreConfig,
			func(cfg service.Config, client *binance.Client, metrics *observability.Metrics) *service.Store {
				return service.NewStore(cfg, client, metrics)
			},
		),
	)
}
