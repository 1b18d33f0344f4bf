package service

import (
	"sync"

	"signal_bot/internal/helper"
	"signal_bot/internal/indicator"
	"signal_bot/internal/models"
)

// VolumeSpike срабатывает, когда набралось count свечей с объёмом не меньше
// median*multiplier. Серия "затухает": каждая пропущенная свеча выбивает
// по одному самому старому всплеску.
type VolumeSpike struct {
	market     MarketReader
	multiplier float64
	count      int

	mu   sync.Mutex
	runs map[string][]int64
}

func NewVolumeSpike(market MarketReader, multiplier float64, count int) *VolumeSpike {
	return &VolumeSpike{
		market:     market,
		multiplier: multiplier,
		count:      max(count, 1),
		runs:       make(map[string][]int64),
	}
}

func (p *VolumeSpike) Name() string { return "volume_spike" }

func (p *VolumeSpike) Check(symbol string, tf models.Timeframe) bool {
	last, ok := p.market.Snapshot(symbol, tf, -1)
	if !ok {
		return false
	}
	med, ok := p.market.Indicator(symbol, tf, indicator.KindMedian, 0, -1)
	if !ok || med <= 0 || last.Volume < med*p.multiplier {
		return false
	}

	key := helper.SeriesKey(symbol, tf)
	p.mu.Lock()
	defer p.mu.Unlock()

	runs := p.runs[key]
	if n := len(runs); n > 0 && tf.Millis() > 0 {
		gap := int((last.CloseTime-runs[n-1])/tf.Millis()) - 1
		switch {
		case gap >= n:
			runs = nil
		case gap > 0:
			runs = runs[gap:]
		}
	}
	runs = append(runs, last.CloseTime)
	if len(runs) > p.count {
		runs = runs[len(runs)-p.count:]
	}
	p.runs[key] = runs
	return len(runs) >= p.count
}
