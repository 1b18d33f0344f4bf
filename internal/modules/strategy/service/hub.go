package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"signal_bot/internal/models"
	signals "signal_bot/internal/modules/signals/service"
	"signal_bot/pkg/logger"
)

type Market interface {
	MarketReader
	ApplyClosedCandle(symbol string, tf models.Timeframe, c models.Candle) bool
	SetCurrent(symbol string, tf models.Timeframe, c models.Candle)
}

type SignalTracker interface {
	Open(ctx context.Context, symbol string, tf models.Timeframe, entry models.Candle) (models.Signal, error)
	Advance(symbol string, tf models.Timeframe, c models.Candle) int
}

type Gate interface {
	Allow(symbol string, ts int64) bool
}

type Notifier interface {
	Notify(symbol string, price float64)
}

type TickRecorder interface {
	TouchTick(t time.Time)
}

// Hub раскладывает события стрима по воркерам по хэшу символа: события одного
// символа обрабатываются строго по порядку, разные символы — параллельно.
type Hub struct {
	market   Market
	pipeline *Pipeline
	cooldown Gate
	signals  SignalTracker
	notifier Notifier
	ticks    TickRecorder
	workers  int
}

func NewHub(market Market, pipeline *Pipeline, cooldown Gate, tracker SignalTracker, notifier Notifier, ticks TickRecorder, workers int) *Hub {
	return &Hub{
		market:   market,
		pipeline: pipeline,
		cooldown: cooldown,
		signals:  tracker,
		notifier: notifier,
		ticks:    ticks,
		workers:  max(workers, 1),
	}
}

// OnEvent: обновить сигнал → записать свечу → прогнать pipeline → кулдаун → открыть сигнал.
func (h *Hub) OnEvent(ctx context.Context, ev models.CandleEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[STRAT] %s %s event panicked: %v", ev.Symbol, ev.Timeframe, r)
		}
	}()

	h.signals.Advance(ev.Symbol, ev.Timeframe, ev.Candle)

	if !ev.Closed {
		h.market.SetCurrent(ev.Symbol, ev.Timeframe, ev.Candle)
		return
	}
	if !h.market.ApplyClosedCandle(ev.Symbol, ev.Timeframe, ev.Candle) {
		return
	}
	if !h.pipeline.Evaluate(ev.Symbol, ev.Timeframe) {
		return
	}
	if !h.cooldown.Allow(ev.Symbol, ev.Candle.CloseTime) {
		logger.Debug("[STRAT] %s %s passed but cooling down", ev.Symbol, ev.Timeframe)
		return
	}

	entry, ok := h.market.Snapshot(ev.Symbol, ev.Timeframe, -1)
	if !ok {
		return
	}
	if _, err := h.signals.Open(ctx, ev.Symbol, ev.Timeframe, entry); err != nil {
		if errors.Is(err, signals.ErrAlreadyOpen) {
			logger.Debug("[STRAT] %v", err)
			return
		}
		logger.Error("[STRAT] open %s: %v", ev.Symbol, err)
		return
	}
	h.notifier.Notify(ev.Symbol, entry.Close)
}

func (h *Hub) shard(symbol string) int {
	f := fnv.New32a()
	_, _ = f.Write([]byte(symbol))
	return int(f.Sum32() % uint32(h.workers))
}

// Run читает события до отмены ctx или закрытия канала и дожидается воркеров.
func (h *Hub) Run(ctx context.Context, events <-chan models.CandleEvent) {
	shards := make([]chan models.CandleEvent, h.workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan models.CandleEvent, 256)
		wg.Add(1)
		go func(ch <-chan models.CandleEvent) {
			defer wg.Done()
			for ev := range ch {
				h.OnEvent(ctx, ev)
			}
		}(shards[i])
	}
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
		logger.Info("[STRAT] hub stopped")
	}()

	logger.Info("[STRAT] hub started, %d workers, pipeline %v", h.workers, h.pipeline.Names())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.ticks.TouchTick(time.Now())
			select {
			case shards[h.shard(ev.Symbol)] <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
