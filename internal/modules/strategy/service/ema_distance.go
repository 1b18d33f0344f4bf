package service

import (
	"math"

	"signal_bot/internal/indicator"
	"signal_bot/internal/models"
)

// EMADistance: расстояние close над EMA должно лежать в полосе
// [minMult, maxMult] средних тел свечей за window последних свечей.
type EMADistance struct {
	market    MarketReader
	emaPeriod int
	window    int
	minMult   float64
	maxMult   float64
}

func NewEMADistance(market MarketReader, emaPeriod, window int, minMult, maxMult float64) *EMADistance {
	return &EMADistance{market: market, emaPeriod: emaPeriod, window: max(window, 1), minMult: minMult, maxMult: maxMult}
}

func (p *EMADistance) Name() string { return "ema_distance" }

func (p *EMADistance) Check(symbol string, tf models.Timeframe) bool {
	candles := p.market.Candles(symbol, tf)
	if len(candles) < p.window {
		return false
	}
	ema, ok := p.market.Indicator(symbol, tf, indicator.KindEMA, p.emaPeriod, -1)
	if !ok {
		return false
	}

	var body float64
	for _, c := range candles[len(candles)-p.window:] {
		body += math.Abs(c.Open - c.Close)
	}
	avg := body / float64(p.window)
	if avg <= 0 {
		return false
	}

	dist := candles[len(candles)-1].Close - ema
	return dist >= avg*p.minMult && dist <= avg*p.maxMult
}
