package service

import (
	"sort"

	"signal_bot/internal/indicator"
	"signal_bot/internal/models"
)

// AboveEMA: close не ниже самой длинной EMA, а при stacked ещё и короткие EMA
// лежат выше длинных.
type AboveEMA struct {
	market  MarketReader
	periods []int
	stacked bool
}

func NewAboveEMA(market MarketReader, periods []int, stacked bool) *AboveEMA {
	ps := append([]int(nil), periods...)
	sort.Ints(ps)
	return &AboveEMA{market: market, periods: ps, stacked: stacked}
}

func (p *AboveEMA) Name() string { return "above_ema" }

func (p *AboveEMA) Check(symbol string, tf models.Timeframe) bool {
	if len(p.periods) == 0 {
		return false
	}
	last, ok := p.market.Snapshot(symbol, tf, -1)
	if !ok {
		return false
	}

	values := make([]float64, len(p.periods))
	for i, period := range p.periods {
		v, ok := p.market.Indicator(symbol, tf, indicator.KindEMA, period, -1)
		if !ok {
			return false
		}
		values[i] = v
	}

	if last.Close < values[len(values)-1] {
		return false
	}
	if p.stacked {
		for i := 0; i < len(values)-1; i++ {
			if values[i] < values[i+1] {
				return false
			}
		}
	}
	return true
}
