package signals

import (
	"context"

	"go.uber.org/fx"

	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/signals/service"
	"signal_bot/internal/observability"
)

func newCooldown(cfg *config.Config) *service.Cooldown {
	return service.NewCooldown(cfg.Signals.Cooldown)
}

func newManager(cfg *config.Config, storage service.Storage, cooldown *service.Cooldown, metrics *observability.Metrics) *service.Manager {
	return service.NewManager(service.Config{
		Rules:         cfg.Signals.Rules,
		FlushInterval: cfg.Signals.FlushInterval,
		FlushChunk:    cfg.Signals.FlushChunk,
	}, storage, cooldown, metrics)
}

func Module() fx.Option {
	return fx.Module("signals",
		fx.Provide(
			newCooldown,
			newManager,
		),
		fx.Invoke(func(lc fx.Lifecycle, appCtx context.Context, m *service.Manager) {
			ctx, cancel := context.WithCancel(appCtx)
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						m.Run(ctx)
					}()
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					cancel()
					<-done
					// остаток буфера пишем в пределах fx.StopTimeout
					return m.Close(stopCtx)
				},
			})
		}),
	)
}
