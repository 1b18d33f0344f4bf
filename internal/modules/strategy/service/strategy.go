package service

import (
	"fmt"
	"sync"

	"signal_bot/internal/indicator"
	"signal_bot/internal/models"
	"signal_bot/pkg/logger"
)

// MarketReader — то, что предикатам нужно от хранилища свечей.
type MarketReader interface {
	Candles(symbol string, tf models.Timeframe) []models.Candle
	Snapshot(symbol string, tf models.Timeframe, index int) (models.Candle, bool)
	Indicator(symbol string, tf models.Timeframe, kind indicator.Kind, period, index int) (float64, bool)
}

type Predicate interface {
	Name() string
	Check(symbol string, tf models.Timeframe) bool
}

// Pipeline — упорядоченный изменяемый список предикатов, вычисляется как AND
// с выходом на первом false.
type Pipeline struct {
	mu    sync.RWMutex
	preds []Predicate
}

func NewPipeline(preds ...Predicate) *Pipeline {
	return &Pipeline{preds: preds}
}

func (p *Pipeline) Register(pred Predicate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.preds {
		if existing.Name() == pred.Name() {
			return fmt.Errorf("predicate %q already registered", pred.Name())
		}
	}
	p.preds = append(p.preds, pred)
	return nil
}

func (p *Pipeline) Remove(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.preds {
		if existing.Name() == name {
			p.preds = append(p.preds[:i:i], p.preds[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Pipeline) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.preds))
	for i, pred := range p.preds {
		out[i] = pred.Name()
	}
	return out
}

// Evaluate: пустой pipeline ничего не пропускает.
func (p *Pipeline) Evaluate(symbol string, tf models.Timeframe) bool {
	p.mu.RLock()
	preds := append([]Predicate(nil), p.preds...)
	p.mu.RUnlock()

	if len(preds) == 0 {
		return false
	}
	for _, pred := range preds {
		if !check(pred, symbol, tf) {
			return false
		}
	}
	return true
}

func check(pred Predicate, symbol string, tf models.Timeframe) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[STRAT] %s panicked on %s %s: %v", pred.Name(), symbol, tf, r)
			ok = false
		}
	}()
	return pred.Check(symbol, tf)
}
