package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/postgres/repository"
	reconciler "signal_bot/internal/modules/reconciler/service"
	signals "signal_bot/internal/modules/signals/service"
	"signal_bot/pkg/db"
)

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (*db.PgTxManager, error) {
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN: cfg.DB,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					poolMaster.Close()
					return nil, err
				}

				m := db.NewPgTxManager(poolMaster)
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						m.Close()
						return nil
					},
				})
				return m, nil
			},
			fx.Annotate(
				func(m *db.PgTxManager) *repository.Signals { return repository.NewSignals(m) },
				fx.As(fx.Self()),
				fx.As(new(signals.Storage)),
				fx.As(new(reconciler.Storage)),
			),
		),
	)
}
