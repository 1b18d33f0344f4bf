package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"signal_bot/internal/helper"
	"signal_bot/internal/indicator"
	"signal_bot/internal/models"
	"signal_bot/internal/observability"
	"signal_bot/pkg/logger"
)

var (
	ErrDataFetch           = errors.New("historical data fetch failed")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrNotInitialized      = errors.New("series not initialized")
)

type HistoryFetcher interface {
	GetCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error)
}

type Config struct {
	Lookbacks       map[models.Timeframe]int
	FetchMultiplier int
	EMAPeriods      []int
	ATRPeriods      []int
	InitConcurrency int
}

func (c Config) FetchLimit(tf models.Timeframe) int {
	return c.Lookbacks[tf] * max(c.FetchMultiplier, 1)
}

func (c Config) Timeframes() []models.Timeframe {
	out := make([]models.Timeframe, 0, len(c.Lookbacks))
	for tf := range c.Lookbacks {
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Duration() < out[j].Duration() })
	return out
}

type entry struct {
	mu         sync.Mutex
	series     *Series
	trackers   []indicator.Tracker
	current    models.Candle
	hasCurrent bool
}

func (e *entry) apply(c models.Candle) error {
	evicted, ok := e.series.Append(c)
	oldest, _ := e.series.At(0)
	u := indicator.Update{Added: c, Oldest: oldest}
	if ok {
		u.Evicted = &evicted
	}

	var errs []error
	for _, tr := range e.trackers {
		if err := tr.Update(u); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tr.Kind(), err))
		}
	}
	return errors.Join(errs...)
}

func (e *entry) tracker(kind indicator.Kind) indicator.Tracker {
	for _, tr := range e.trackers {
		if tr.Kind() == kind {
			return tr
		}
	}
	return nil
}

// Store владеет свечами и индикаторами по каждой паре (symbol, timeframe).
// Карта защищена RWMutex, каждая пара — своим мьютексом.
type Store struct {
	cfg     Config
	fetcher HistoryFetcher
	metrics *observability.Metrics

	mu      sync.RWMutex
	entries map[string]*entry
	active  map[string]struct{}
	known   map[string]struct{}
}

func NewStore(cfg Config, fetcher HistoryFetcher, metrics *observability.Metrics) *Store {
	return &Store{
		cfg:     cfg,
		fetcher: fetcher,
		metrics: metrics,
		entries: make(map[string]*entry),
		active:  make(map[string]struct{}),
		known:   make(map[string]struct{}),
	}
}

func (s *Store) newEntry(lookback int) (*entry, error) {
	e := &entry{series: NewSeries(lookback)}
	specs := []struct {
		kind    indicator.Kind
		periods []int
	}{
		{indicator.KindEMA, s.cfg.EMAPeriods},
		{indicator.KindATR, s.cfg.ATRPeriods},
		{indicator.KindMedian, nil},
	}
	for _, sp := range specs {
		tr, err := indicator.New(sp.kind, sp.periods, lookback)
		if err != nil {
			return nil, err
		}
		e.trackers = append(e.trackers, tr)
	}
	return e, nil
}

// Initialize загружает историю по всем таймфреймам. Если хоть по одному
// пришло меньше свечей чем нужно, символ целиком не активируется.
func (s *Store) Initialize(ctx context.Context, symbol string) error {
	s.mu.Lock()
	s.known[symbol] = struct{}{}
	s.mu.Unlock()

	built := make(map[models.Timeframe]*entry, len(s.cfg.Lookbacks))
	for _, tf := range s.cfg.Timeframes() {
		e, err := s.build(ctx, symbol, tf)
		if err != nil {
			s.deactivate(symbol)
			return err
		}
		built[tf] = e
	}

	s.mu.Lock()
	for tf, e := range built {
		s.entries[helper.SeriesKey(symbol, tf)] = e
	}
	s.active[symbol] = struct{}{}
	s.metrics.SymbolsActive.Set(float64(len(s.active)))
	s.mu.Unlock()
	return nil
}

func (s *Store) build(ctx context.Context, symbol string, tf models.Timeframe) (*entry, error) {
	limit := s.cfg.FetchLimit(tf)
	candles, err := s.fetcher.GetCandles(ctx, symbol, tf, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrDataFetch, symbol, tf, err)
	}
	if len(candles) < limit {
		return nil, fmt.Errorf("%w: %s %s got %d of %d", ErrInsufficientHistory, symbol, tf, len(candles), limit)
	}
	candles = candles[len(candles)-limit:]

	e, err := s.newEntry(s.cfg.Lookbacks[tf])
	if err != nil {
		return nil, err
	}
	for _, c := range candles {
		if err := e.apply(c); err != nil {
			return nil, fmt.Errorf("backfill %s %s: %w", symbol, tf, err)
		}
	}
	return e, nil
}

func (s *Store) deactivate(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tf := range s.cfg.Lookbacks {
		delete(s.entries, helper.SeriesKey(symbol, tf))
	}
	delete(s.active, symbol)
	s.metrics.SymbolsActive.Set(float64(len(s.active)))
}

// InitializeAll инициализирует символы параллельно; ошибка по одному символу
// не мешает остальным. Возвращает активный набор.
func (s *Store) InitializeAll(ctx context.Context, symbols []string) []string {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.InitConcurrency, 1))
	for _, sym := range symbols {
		g.Go(func() error {
			if err := s.Initialize(gctx, sym); err != nil {
				logger.Warn("[MARKET] %s skipped: %v", sym, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	active := s.Active()
	logger.Info("[MARKET] initialized %d/%d symbols", len(active), len(symbols))
	return active
}

// Reinitialize перестраивает состояние по всем когда-либо запрошенным символам.
func (s *Store) Reinitialize(ctx context.Context) []string {
	return s.InitializeAll(ctx, s.Known())
}

func (s *Store) entry(symbol string, tf models.Timeframe) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[helper.SeriesKey(symbol, tf)]
}

// ApplyClosedCandle добавляет закрытую свечу и обновляет индикаторы.
// false — пара не инициализирована или свеча не новее последней.
func (s *Store) ApplyClosedCandle(symbol string, tf models.Timeframe, c models.Candle) bool {
	e := s.entry(symbol, tf)
	if e == nil {
		logger.Warn("[MARKET] %v: %s %s", ErrNotInitialized, symbol, tf)
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.series.Last(); ok && c.OpenTime <= last.OpenTime {
		return false
	}
	if err := e.apply(c); err != nil {
		logger.Error("[MARKET] %s %s apply: %v", symbol, tf, err)
	}
	e.current, e.hasCurrent = c, true
	s.metrics.CandlesApplied.Inc()
	return true
}

// SetCurrent запоминает незакрытую свечу, в историю она не попадает.
func (s *Store) SetCurrent(symbol string, tf models.Timeframe, c models.Candle) {
	e := s.entry(symbol, tf)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.current, e.hasCurrent = c, true
	e.mu.Unlock()
}

func (s *Store) Current(symbol string, tf models.Timeframe) (models.Candle, bool) {
	e := s.entry(symbol, tf)
	if e == nil {
		return models.Candle{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.hasCurrent
}

func (s *Store) Snapshot(symbol string, tf models.Timeframe, index int) (models.Candle, bool) {
	e := s.entry(symbol, tf)
	if e == nil {
		return models.Candle{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.series.At(index)
}

func (s *Store) Candles(symbol string, tf models.Timeframe) []models.Candle {
	e := s.entry(symbol, tf)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.series.Candles()
}

func (s *Store) Indicator(symbol string, tf models.Timeframe, kind indicator.Kind, period, index int) (float64, bool) {
	e := s.entry(symbol, tf)
	if e == nil {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	tr := e.tracker(kind)
	if tr == nil {
		return 0, false
	}
	return tr.Value(period, index)
}

func (s *Store) Active() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.active)
}

func (s *Store) Known() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.known)
}

func (s *Store) Lookback(tf models.Timeframe) int { return s.cfg.Lookbacks[tf] }

func (s *Store) Timeframes() []models.Timeframe { return s.cfg.Timeframes() }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
