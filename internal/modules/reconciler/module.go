package reconciler

import (
	"context"

	"go.uber.org/fx"

	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/reconciler/service"
	signals "signal_bot/internal/modules/signals/service"
	"signal_bot/internal/observability"
)

// живые сигналы менеджера в проход не попадают
func newReconciler(cfg *config.Config, storage service.Storage, history service.History, manager *signals.Manager, metrics *observability.Metrics) *service.Reconciler {
	return service.NewReconciler(service.Config{
		Interval:         cfg.Reconciler.Interval,
		MaxAttempts:      cfg.Reconciler.MaxAttempts,
		MaxTradeAttempts: cfg.Reconciler.MaxTradeAttempts,
	}, storage, history, manager, metrics)
}

func Module() fx.Option {
	return fx.Module("reconciler",
		fx.Provide(newReconciler),
		fx.Invoke(func(lc fx.Lifecycle, appCtx context.Context, r *service.Reconciler) {
			ctx, cancel := context.WithCancel(appCtx)
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						r.Run(ctx)
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
