package service

import (
	"signal_bot/internal/indicator"
	"signal_bot/internal/models"
)

// ATRRatio отсекает слишком "спокойные" инструменты: ATR/close*100 > minPct.
type ATRRatio struct {
	market MarketReader
	period int
	minPct float64
}

func NewATRRatio(market MarketReader, period int, minPct float64) *ATRRatio {
	return &ATRRatio{market: market, period: period, minPct: minPct}
}

func (p *ATRRatio) Name() string { return "atr_ratio" }

func (p *ATRRatio) Check(symbol string, tf models.Timeframe) bool {
	last, ok := p.market.Snapshot(symbol, tf, -1)
	if !ok || last.Close <= 0 {
		return false
	}
	atr, ok := p.market.Indicator(symbol, tf, indicator.KindATR, p.period, -1)
	if !ok {
		return false
	}
	return atr/last.Close*100 > p.minPct
}
