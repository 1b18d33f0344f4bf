package bootstrap

import (
	"context"

	"go.uber.org/fx"

	"signal_bot/internal/models"
	binance "signal_bot/internal/modules/binance_client/service"
	ws "signal_bot/internal/modules/binance_websocket/service"
	bootstrap "signal_bot/internal/modules/bootstrap/service"
	"signal_bot/internal/modules/config"
	health "signal_bot/internal/modules/health/service"
	market "signal_bot/internal/modules/market/service"
	signals "signal_bot/internal/modules/signals/service"
	"signal_bot/pkg/logger"
)

func newWarmuper(cfg *config.Config, client *binance.Client, store *market.Store, pool *ws.Pool, state *health.State, manager *signals.Manager) (*bootstrap.Warmuper, error) {
	// по брошенному соединению событий больше не будет, сигналы уходят в reconciler
	pool.OnAbandon(func(tf models.Timeframe, symbols []string) {
		if n := manager.Release(tf, symbols); n > 0 {
			logger.Warn("[BOOT] %s connection abandoned, %d open signals released", tf, n)
		}
	})
	return bootstrap.NewWarmuper(client, store, pool, state, manager, cfg.Stream.ResetAt)
}

func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(
			newWarmuper,
		),
		fx.Invoke(func(lc fx.Lifecycle, sh fx.Shutdowner, appCtx context.Context, wu *bootstrap.Warmuper, pool *ws.Pool) {
			ctx, cancel := context.WithCancel(appCtx)
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						if err := wu.Warmup(ctx); err != nil {
							logger.Error("[BOOT] warmup error: %v", err)
							_ = sh.Shutdown(fx.ExitCode(1))
							return
						}
						wu.RunDailyReset(ctx)
					}()
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					pool.Stop()
					return nil
				},
			})
		}),
	)
}
