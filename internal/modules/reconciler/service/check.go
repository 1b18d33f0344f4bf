package service

import (
	"context"
	"math"

	"signal_bot/internal/helper"
	"signal_bot/internal/models"
	"signal_bot/pkg/logger"
)

const (
	coarse = models.TF1d
	fine   = models.TF1m
)

// Breach — первый момент, когда цена дошла до цели или стопа.
type Breach struct {
	Found  bool
	Time   int64
	Result models.Result
}

// CheckCondition ищет первое пересечение цели/стопа после start: сначала по
// дневным свечам, затем по минутным внутри найденного дня, затем по сделкам.
// Число запросов ограничено, при исчерпании возвращается лучшее найденное.
func (r *Reconciler) CheckCondition(ctx context.Context, symbol string, base, winPct, lossPct float64, start int64) (Breach, error) {
	win := helper.WinThreshold(base, winPct)
	loss := helper.LossThreshold(base, lossPct)

	key := cacheKey{symbol: symbol, start: start, win: win, loss: loss}
	r.mu.Lock()
	cached, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	b, err := r.search(ctx, symbol, win, loss, start)
	if err != nil {
		return b, err
	}
	if b.Found {
		r.mu.Lock()
		r.cache[key] = b
		r.mu.Unlock()
	}
	return b, nil
}

func (r *Reconciler) search(ctx context.Context, symbol string, win, loss float64, start int64) (Breach, error) {
	var (
		best      Breach
		refining  bool
		from      = start
		windowEnd = int64(math.MaxInt64)
	)

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		tf := coarse
		if refining {
			tf = fine
		}
		// Binance отдаёт свечи с openTime >= startTime, поэтому берём начало бара
		candles, err := r.history.GetKlines(ctx, symbol, tf.BinanceInterval(), from-from%tf.Millis())
		if err != nil {
			return best, err
		}

		if len(candles) == 0 {
			if !refining {
				refining = true
				continue
			}
			return best, nil
		}

		idx, res := firstCross(candles, win, loss, from)
		if idx < 0 {
			from = max(from, candles[len(candles)-1].CloseTime+1)
			if refining && from > windowEnd {
				// дневной пробой был до start, продолжаем по дням
				best, refining, windowEnd = Breach{}, false, math.MaxInt64
			}
			continue
		}

		c := candles[idx]
		best = Breach{Found: true, Time: c.CloseTime, Result: res}
		if !refining {
			refining = true
			from = max(from, c.OpenTime)
			windowEnd = c.CloseTime
			continue
		}

		exact, ok, err := r.scanTrades(ctx, symbol, win, loss, max(from, c.OpenTime), c.CloseTime)
		if err != nil {
			logger.Warn("[RECON] %s trades: %v", symbol, err)
			return best, nil
		}
		if ok {
			return exact, nil
		}
		return best, nil
	}
	return best, nil
}

func firstCross(candles []models.Candle, win, loss float64, from int64) (int, models.Result) {
	for i, c := range candles {
		if c.CloseTime < from {
			continue
		}
		hitWin, hitLoss := c.High >= win, c.Low <= loss
		switch {
		case hitLoss:
			// если в одной свече задеты обе границы — без уточнения считаем стоп
			return i, models.ResultLoss
		case hitWin:
			return i, models.ResultWin
		}
	}
	return -1, ""
}

func (r *Reconciler) scanTrades(ctx context.Context, symbol string, win, loss float64, from, until int64) (Breach, bool, error) {
	for attempt := 0; attempt < r.cfg.MaxTradeAttempts; attempt++ {
		trades, err := r.history.GetAggTrades(ctx, symbol, from)
		if err != nil {
			return Breach{}, false, err
		}
		if len(trades) == 0 {
			return Breach{}, false, nil
		}
		for _, t := range trades {
			if t.Time < from {
				continue
			}
			if t.Time > until {
				return Breach{}, false, nil
			}
			if t.Price >= win {
				return Breach{Found: true, Time: t.Time, Result: models.ResultWin}, true, nil
			}
			if t.Price <= loss {
				return Breach{Found: true, Time: t.Time, Result: models.ResultLoss}, true, nil
			}
		}
		from = max(from, trades[len(trades)-1].Time+1)
	}
	return Breach{}, false, nil
}
