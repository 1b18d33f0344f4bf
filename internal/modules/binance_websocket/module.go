package binance_websocket

import (
	"go.uber.org/fx"

	"signal_bot/internal/models"
	"signal_bot/internal/modules/binance_websocket/service"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/observability"
)

func newEventsChan(cfg *config.Config) chan models.CandleEvent {
	// общий буфер событий от всех подключений
	return make(chan models.CandleEvent, max(cfg.Stream.Buffer, 1))
}

func asReceiveOnly(ch chan models.CandleEvent) <-chan models.CandleEvent { return ch }

func newPool(cfg *config.Config, ch chan models.CandleEvent, metrics *observability.Metrics) *service.Pool {
	return service.NewPool(service.Config{
		BaseURL:              cfg.Stream.BaseURL,
		ChunkSize:            cfg.Stream.ChunkSize,
		ReconnectBase:        cfg.Stream.ReconnectBase,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
		PingInterval:         cfg.Stream.PingInterval,
		LivenessTimeout:      cfg.Stream.LivenessTimeout,
	}, ch, metrics)
}

// Module поднимает пул подключений к стриму свечей Binance. Запуском и
// перезапуском пула управляет bootstrap.
func Module() fx.Option {
	return fx.Module("binance_websocket",
		fx.Provide(
			newEventsChan, // chan models.CandleEvent
			asReceiveOnly, // <-chan models.CandleEvent
			newPool,
		),
	)
}
