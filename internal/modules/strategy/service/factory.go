package service

import (
	"fmt"
	"strings"
)

type Config struct {
	Algorithms       []string
	VolumeMultiplier float64
	VolumeCount      int
	EMAPeriods       []int
	StackedEMA       bool
	ATRPeriod        int
	MinATRPct        float64
	BodyWindow       int
	DistanceMin      float64
	DistanceMax      float64
}

func NewPredicate(name string, cfg Config, market MarketReader) (Predicate, error) {
	longEMA := 0
	for _, p := range cfg.EMAPeriods {
		longEMA = max(longEMA, p)
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "volume_spike":
		return NewVolumeSpike(market, cfg.VolumeMultiplier, cfg.VolumeCount), nil
	case "above_ema":
		return NewAboveEMA(market, cfg.EMAPeriods, cfg.StackedEMA), nil
	case "atr_ratio":
		return NewATRRatio(market, cfg.ATRPeriod, cfg.MinATRPct), nil
	case "ema_distance":
		return NewEMADistance(market, longEMA, cfg.BodyWindow, cfg.DistanceMin, cfg.DistanceMax), nil
	}
	return nil, fmt.Errorf("unknown algorithm %q", name)
}

// NewPipelineFromConfig собирает pipeline в порядке, заданном в конфиге.
func NewPipelineFromConfig(cfg Config, market MarketReader) (*Pipeline, error) {
	p := NewPipeline()
	for _, name := range cfg.Algorithms {
		pred, err := NewPredicate(name, cfg, market)
		if err != nil {
			return nil, err
		}
		if err := p.Register(pred); err != nil {
			return nil, err
		}
	}
	return p, nil
}
