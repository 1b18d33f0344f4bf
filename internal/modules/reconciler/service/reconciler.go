package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"

	"signal_bot/internal/helper"
	"signal_bot/internal/models"
	"signal_bot/internal/observability"
	"signal_bot/pkg/logger"
)

type Storage interface {
	FindStaleSignals(ctx context.Context, before time.Time) ([]models.StaleSignal, error)
	CreateOutcomesBatch(ctx context.Context, outcomes []models.Outcome) error
}

type History interface {
	GetKlines(ctx context.Context, symbol, interval string, startTime int64) ([]models.Candle, error)
	GetAggTrades(ctx context.Context, symbol string, startTime int64) ([]models.Trade, error)
}

// LiveSet — сигналы, которые ещё ведутся по стриму.
type LiveSet interface {
	Tracking(signalID string) bool
}

type Config struct {
	Interval         time.Duration
	MaxAttempts      int
	MaxTradeAttempts int
}

type cacheKey struct {
	symbol string
	start  int64
	win    float64
	loss   float64
}

// Reconciler дозаписывает исходы правил, которые не успели разрешиться вживую
// (рестарт, разрыв стрима), по историческим данным.
type Reconciler struct {
	cfg     Config
	storage Storage
	history History
	live    LiveSet
	metrics *observability.Metrics
	now     func() time.Time

	mu    sync.Mutex
	cache map[cacheKey]Breach
}

func NewReconciler(cfg Config, storage Storage, history History, live LiveSet, metrics *observability.Metrics) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.MaxTradeAttempts <= 0 {
		cfg.MaxTradeAttempts = 5
	}
	return &Reconciler{
		cfg:     cfg,
		storage: storage,
		history: history,
		live:    live,
		metrics: metrics,
		now:     time.Now,
		cache:   make(map[cacheKey]Breach),
	}
}

// Run запускает проход сразу и затем по интервалу до отмены ctx.
func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		if n, err := r.ReconcileOnce(ctx); err != nil {
			logger.Error("[RECON] %v", err)
		} else if n > 0 {
			logger.Info("[RECON] recovered %d outcomes", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// ReconcileOnce обрабатывает все "зависшие" сигналы, кроме тех, что ещё ведутся
// вживую. Ошибка по одному сигналу не прерывает проход. Возвращает число
// записанных исходов.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	stale, err := r.storage.FindStaleSignals(ctx, r.now())
	if err != nil {
		return 0, fmt.Errorf("find stale signals: %w", err)
	}

	r.mu.Lock()
	r.cache = make(map[cacheKey]Breach)
	r.mu.Unlock()

	total := 0
	for _, s := range stale {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		if r.live != nil && r.live.Tracking(s.ID) {
			continue
		}
		n, err := r.reconcileSafe(ctx, s)
		total += n
		if err != nil {
			r.metrics.ReconcileErrors.Inc()
			logger.Error("[RECON] signal %s %s: %v", s.ID, s.Symbol, err)
		}
	}
	return total, nil
}

func (r *Reconciler) reconcileSafe(ctx context.Context, s models.StaleSignal) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.reconcile(ctx, s)
}

func (r *Reconciler) reconcile(ctx context.Context, s models.StaleSignal) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "reconciler.signal")
	defer span.Finish()
	span.SetTag("signal_id", s.ID)
	span.SetTag("symbol", s.Symbol)

	if s.Entry.Close <= 0 {
		return 0, fmt.Errorf("signal has no entry price")
	}

	start := s.Entry.CloseTime + 1
	var (
		outcomes []models.Outcome
		checkErr error
	)
	for _, rule := range s.Pending() {
		b, err := r.CheckCondition(ctx, s.Symbol, s.Entry.Close, rule.WinPct, rule.LossPct, start)
		if err != nil {
			// найденное по остальным правилам всё равно пишем
			checkErr = fmt.Errorf("rule %d: %w", rule.ID, err)
			break
		}
		if !b.Found {
			continue
		}
		outcomes = append(outcomes, models.Outcome{
			SignalID:    s.ID,
			RuleID:      rule.ID,
			Result:      b.Result,
			TargetPrice: helper.WinThreshold(s.Entry.Close, rule.WinPct),
			StopPrice:   helper.LossThreshold(s.Entry.Close, rule.LossPct),
			DurationMs:  b.Time - s.Entry.OpenTime,
			CompletedAt: b.Time,
		})
	}
	if len(outcomes) == 0 {
		return 0, checkErr
	}

	if err := r.storage.CreateOutcomesBatch(ctx, outcomes); err != nil {
		return 0, errors.Join(checkErr, fmt.Errorf("save outcomes: %w", err))
	}
	r.metrics.ReconciledOutcomes.Add(float64(len(outcomes)))
	return len(outcomes), checkErr
}
