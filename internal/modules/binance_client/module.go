package binance_client

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"signal_bot/internal/modules/binance_client/service"
	"signal_bot/internal/modules/config"
	reconciler "signal_bot/internal/modules/reconciler/service"
	"signal_bot/pkg/logger"
)

func newClient(cfg *config.Config) *service.Client {
	return service.NewClient(service.Config{
		BaseURL:       cfg.Binance.BaseURL,
		Timeout:       cfg.Binance.Timeout,
		PageLimit:     cfg.Binance.PageLimit,
		ExcludeSuffix: cfg.Binance.ExcludeSuffix,
		TopN:          cfg.Binance.TopN,
	})
}

// newRedis возвращает nil, если кэш не настроен.
func newRedis(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		logger.Info("[BINANCE] redis is not configured, history cache disabled")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// кэш не обязателен: при недоступном redis декоратор просто ходит в API
		logger.Warn("[BINANCE] redis ping %s: %v", cfg.Redis.Addr, err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return rdb.Close() },
	})
	return rdb
}

func newHistory(cfg *config.Config, rdb *redis.Client, client *service.Client) *service.CachingHistory {
	return service.NewCachingHistory(rdb, cfg.Redis.TTL, client, "")
}

func Module() fx.Option {
	return fx.Module("binance_client",
		fx.Provide(
			newClient,
			newRedis,
			fx.Annotate(newHistory, fx.As(new(reconciler.History))),
		),
	)
}
