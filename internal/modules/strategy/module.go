package strategy

import (
	"context"

	"go.uber.org/fx"

	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	health "signal_bot/internal/modules/health/service"
	market "signal_bot/internal/modules/market/service"
	signals "signal_bot/internal/modules/signals/service"
	"signal_bot/internal/modules/strategy/service"
)

func newPipeline(cfg *config.Config, store *market.Store) (*service.Pipeline, error) {
	return service.NewPipelineFromConfig(service.Config{
		Algorithms:       cfg.Strategy.Algorithms,
		VolumeMultiplier: cfg.Strategy.VolumeMultiplier,
		VolumeCount:      cfg.Strategy.VolumeCount,
		EMAPeriods:       cfg.TrackedEMAPeriods(),
		StackedEMA:       cfg.Strategy.StackedEMA,
		ATRPeriod:        cfg.Strategy.ATRPeriod,
		MinATRPct:        cfg.Strategy.MinATRPct,
		BodyWindow:       cfg.Strategy.BodyWindow,
		DistanceMin:      cfg.Strategy.DistanceMin,
		DistanceMax:      cfg.Strategy.DistanceMax,
	}, store)
}

func newHub(
	cfg *config.Config,
	store *market.Store,
	pipeline *service.Pipeline,
	cooldown *signals.Cooldown,
	manager *signals.Manager,
	notifier service.Notifier,
	state *health.State,
) *service.Hub {
	return service.NewHub(store, pipeline, cooldown, manager, notifier, state, cfg.Strategy.Workers)
}

func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(
			newPipeline,
			newHub,
		),
		fx.Invoke(func(lc fx.Lifecycle, appCtx context.Context, hub *service.Hub, events <-chan models.CandleEvent) {
			ctx, cancel := context.WithCancel(appCtx)
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						hub.Run(ctx, events)
					}()
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
		}),
	)
}
