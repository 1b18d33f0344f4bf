package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"signal_bot/internal/helper"
	"signal_bot/internal/models"
	"signal_bot/internal/observability"
	"signal_bot/pkg/logger"
)

var (
	ErrAlreadyOpen  = errors.New("signal already open for symbol")
	ErrNoSignal     = errors.New("no open signal for symbol")
	ErrClosed       = errors.New("signal manager is closed")
	ErrNoEntryPrice = errors.New("entry candle has no close price")
)

type Storage interface {
	CreateSignal(ctx context.Context, s models.Signal) (string, error)
	CreateOutcomesBatch(ctx context.Context, outcomes []models.Outcome) error
	DeleteSignalAndOutcomes(ctx context.Context, signalID string) error
}

type Config struct {
	Rules         []models.Rule
	FlushInterval time.Duration
	FlushChunk    int
}

type ruleState struct {
	target float64
	stop   float64
}

type openSignal struct {
	signal   models.Signal
	reserved bool
	pending  map[int]ruleState
}

type ActiveSignal struct {
	models.Signal
	Pending []int
}

// Manager ведёт открытые сигналы: не больше одного на символ, исходы правил
// копятся в буфере и пишутся пачками по таймеру.
type Manager struct {
	cfg      Config
	storage  Storage
	cooldown *Cooldown
	metrics  *observability.Metrics
	now      func() time.Time

	mu   sync.Mutex
	open map[string]*openSignal

	bufMu  sync.Mutex
	buffer []models.Outcome

	flushing atomic.Bool
	closed   atomic.Bool
}

func NewManager(cfg Config, storage Storage, cooldown *Cooldown, metrics *observability.Metrics) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.FlushChunk <= 0 {
		cfg.FlushChunk = 200
	}
	return &Manager{
		cfg:      cfg,
		storage:  storage,
		cooldown: cooldown,
		metrics:  metrics,
		now:      time.Now,
		open:     make(map[string]*openSignal),
	}
}

// Open резервирует слот символа (compare-and-set), синхронно сохраняет сигнал
// и только потом начинает отслеживать правила.
func (m *Manager) Open(ctx context.Context, symbol string, tf models.Timeframe, entry models.Candle) (models.Signal, error) {
	if m.closed.Load() {
		return models.Signal{}, ErrClosed
	}
	if entry.Close <= 0 {
		return models.Signal{}, fmt.Errorf("%w: %s", ErrNoEntryPrice, symbol)
	}

	m.mu.Lock()
	if _, ok := m.open[symbol]; ok {
		m.mu.Unlock()
		return models.Signal{}, fmt.Errorf("%w: %s", ErrAlreadyOpen, symbol)
	}
	slot := &openSignal{reserved: true}
	m.open[symbol] = slot
	m.mu.Unlock()

	sig := models.Signal{
		Symbol:    symbol,
		Timeframe: tf,
		Entry:     entry,
		CreatedAt: m.now().UTC(),
		Rules:     append([]models.Rule(nil), m.cfg.Rules...),
	}
	id, err := m.storage.CreateSignal(ctx, sig)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.open, symbol)
		return models.Signal{}, fmt.Errorf("create signal %s: %w", symbol, err)
	}

	sig.ID = id
	slot.signal = sig
	slot.pending = make(map[int]ruleState, len(sig.Rules))
	for _, r := range sig.Rules {
		slot.pending[r.ID] = ruleState{
			target: helper.WinThreshold(entry.Close, r.WinPct),
			stop:   helper.LossThreshold(entry.Close, r.LossPct),
		}
	}
	slot.reserved = false

	m.metrics.SignalsOpened.Inc()
	logger.Info("[SIGNALS] opened %s %s %s @ %.8f", id, symbol, tf, entry.Close)
	return sig, nil
}

// Advance проверяет незакрытые правила сигнала по цене закрытия свечи.
// Свечи других таймфреймов игнорируются. Возвращает число разрешённых правил.
func (m *Manager) Advance(symbol string, tf models.Timeframe, c models.Candle) int {
	if m.closed.Load() {
		return 0
	}

	m.mu.Lock()
	slot, ok := m.open[symbol]
	if !ok || slot.reserved || slot.signal.Timeframe != tf {
		m.mu.Unlock()
		return 0
	}

	completedAt := min(c.CloseTime, m.now().UnixMilli())
	var resolved []models.Outcome
	for id, rs := range slot.pending {
		var res models.Result
		switch {
		case c.Close >= rs.target:
			res = models.ResultWin
		case c.Close <= rs.stop:
			res = models.ResultLoss
		default:
			continue
		}
		resolved = append(resolved, models.Outcome{
			SignalID:    slot.signal.ID,
			RuleID:      id,
			Result:      res,
			TargetPrice: rs.target,
			StopPrice:   rs.stop,
			DurationMs:  completedAt - slot.signal.Entry.OpenTime,
			CompletedAt: completedAt,
		})
		delete(slot.pending, id)
	}
	if len(slot.pending) == 0 {
		delete(m.open, symbol)
		logger.Info("[SIGNALS] %s %s fully resolved", slot.signal.ID, symbol)
	}
	m.mu.Unlock()

	if len(resolved) == 0 {
		return 0
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].RuleID < resolved[j].RuleID })
	for _, o := range resolved {
		m.metrics.OutcomesResolved.WithLabelValues(string(o.Result)).Inc()
	}

	m.bufMu.Lock()
	m.buffer = append(m.buffer, resolved...)
	m.metrics.OutcomesBuffered.Set(float64(len(m.buffer)))
	m.bufMu.Unlock()
	return len(resolved)
}

// Remove — ручное закрытие ошибочного сигнала: удаляет его из базы, памяти и буфера.
func (m *Manager) Remove(ctx context.Context, symbol string) error {
	m.mu.Lock()
	slot, ok := m.open[symbol]
	if !ok || slot.reserved {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoSignal, symbol)
	}
	delete(m.open, symbol)
	m.mu.Unlock()

	if err := m.storage.DeleteSignalAndOutcomes(ctx, slot.signal.ID); err != nil {
		m.mu.Lock()
		if _, taken := m.open[symbol]; !taken {
			m.open[symbol] = slot
		}
		m.mu.Unlock()
		return fmt.Errorf("delete signal %s: %w", slot.signal.ID, err)
	}

	m.bufMu.Lock()
	kept := m.buffer[:0]
	for _, o := range m.buffer {
		if o.SignalID != slot.signal.ID {
			kept = append(kept, o)
		}
	}
	m.buffer = kept
	m.metrics.OutcomesBuffered.Set(float64(len(m.buffer)))
	m.bufMu.Unlock()

	if m.cooldown != nil {
		m.cooldown.Touch(symbol, m.now().UnixMilli())
	}
	logger.Info("[SIGNALS] removed %s %s", slot.signal.ID, symbol)
	return nil
}

// Release перестаёт вести сигналы символов, по которым больше не будет событий
// (символ выключен или соединение брошено). Сигнал остаётся в базе, его
// недостающие исходы дозапишет reconciler. Пустой tf — любой таймфрейм.
func (m *Manager) Release(tf models.Timeframe, symbols []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := 0
	for _, symbol := range symbols {
		slot, ok := m.open[symbol]
		if !ok || slot.reserved || (tf != "" && slot.signal.Timeframe != tf) {
			continue
		}
		delete(m.open, symbol)
		released++
		logger.Warn("[SIGNALS] %s %s released to reconciliation, %d rules pending", slot.signal.ID, symbol, len(slot.pending))
	}
	return released
}

// Tracking — сигнал ещё ведётся вживую или его исходы ждут записи в буфере.
func (m *Manager) Tracking(signalID string) bool {
	m.mu.Lock()
	for _, slot := range m.open {
		if !slot.reserved && slot.signal.ID == signalID {
			m.mu.Unlock()
			return true
		}
	}
	m.mu.Unlock()

	m.bufMu.Lock()
	defer m.bufMu.Unlock()
	for _, o := range m.buffer {
		if o.SignalID == signalID {
			return true
		}
	}
	return false
}

func (m *Manager) Active() []ActiveSignal {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ActiveSignal, 0, len(m.open))
	for _, slot := range m.open {
		if slot.reserved {
			continue
		}
		a := ActiveSignal{Signal: slot.signal}
		for id := range slot.pending {
			a.Pending = append(a.Pending, id)
		}
		sort.Ints(a.Pending)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (m *Manager) Buffered() int {
	m.bufMu.Lock()
	defer m.bufMu.Unlock()
	return len(m.buffer)
}
