package telegram

import (
	"context"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/fx"

	"signal_bot/internal/modules/config"
	signals "signal_bot/internal/modules/signals/service"
	strategy "signal_bot/internal/modules/strategy/service"
	"signal_bot/internal/modules/telegram_bot/service"
	"signal_bot/internal/observability"
	"signal_bot/pkg/logger"
)

func newBot(cfg *config.Config) (service.Bot, error) {
	if cfg.Telegram.Token == "" {
		logger.Warn("[TG] token is empty, notifications go to log only")
		return nil, nil
	}
	b, err := tgbot.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func newTelegram(cfg *config.Config, bot service.Bot, manager *signals.Manager, metrics *observability.Metrics) *service.Telegram {
	return service.NewTelegram(service.Config{
		ChatID:        cfg.Telegram.ChatID,
		FlushInterval: cfg.Telegram.FlushInterval,
	}, bot, manager, metrics)
}

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			newBot,
			newTelegram,
			// *service.Telegram -> strategy.Notifier
			func(t *service.Telegram) strategy.Notifier { return t },
		),
		fx.Invoke(
			func(lc fx.Lifecycle, appCtx context.Context, t *service.Telegram) {
				ctx, cancel := context.WithCancel(appCtx)
				done := make(chan struct{})
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						t.Start(ctx)
						go func() {
							defer close(done)
							t.Run(ctx)
						}()
						return nil
					},
					OnStop: func(stopCtx context.Context) error {
						t.Stop()
						cancel()
						select {
						case <-done:
						case <-stopCtx.Done():
						}
						return nil
					},
				})
			},
		),
	)
}
