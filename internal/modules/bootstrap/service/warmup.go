package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signal_bot/internal/models"
	"signal_bot/pkg/logger"
)

var ErrNoActiveSymbols = errors.New("no symbols initialized")

type SymbolSource interface {
	Symbols(ctx context.Context) ([]string, error)
}

type Store interface {
	InitializeAll(ctx context.Context, symbols []string) []string
	Reinitialize(ctx context.Context) []string
	Timeframes() []models.Timeframe
}

type Stream interface {
	Start(ctx context.Context, symbols []string, tfs []models.Timeframe) error
	Stop()
}

type Readiness interface {
	SetReady(v bool)
}

// Releaser отпускает открытые сигналы выключенных символов в reconciler.
type Releaser interface {
	Release(tf models.Timeframe, symbols []string) int
}

// Warmuper прогревает историю перед стартом стрима и раз в сутки
// пересобирает всё с нуля.
type Warmuper struct {
	symbols SymbolSource
	store   Store
	stream  Stream
	ready   Readiness
	signals Releaser
	resetAt time.Duration // смещение от полуночи UTC
	now     func() time.Time

	retryBase time.Duration
	retryMax  time.Duration

	active []string

	// Warmup и Reset не должны пересекаться
	mu sync.Mutex
}

func NewWarmuper(symbols SymbolSource, store Store, stream Stream, ready Readiness, signals Releaser, resetAt string) (*Warmuper, error) {
	offset, err := ParseResetAt(resetAt)
	if err != nil {
		return nil, err
	}
	return &Warmuper{
		symbols: symbols,
		store:   store,
		stream:  stream,
		ready:   ready,
		signals: signals,
		resetAt: offset,
		now:     time.Now,

		retryBase: 30 * time.Second,
		retryMax:  5 * time.Minute,
	}, nil
}

// Warmup: список символов -> история -> стрим по активным символам.
func (w *Warmuper) Warmup(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	syms, err := w.symbols.Symbols(ctx)
	if err != nil {
		return fmt.Errorf("load symbols: %w", err)
	}
	logger.Info("[BOOT] warmup start: symbols=%d timeframes=%v", len(syms), w.store.Timeframes())

	active := w.store.InitializeAll(ctx, syms)
	if len(active) == 0 {
		return ErrNoActiveSymbols
	}
	if err := w.stream.Start(ctx, active, w.store.Timeframes()); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	w.active = active
	w.ready.SetReady(true)
	logger.Info("[BOOT] warmup done: %d/%d symbols active", len(active), len(syms))
	return nil
}

// Reset останавливает стрим, заново грузит историю и поднимает стрим.
// Пока ни один символ не загрузился, загрузка повторяется с backoff.
func (w *Warmuper) Reset(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ready.SetReady(false)
	w.stream.Stop()

	active, err := w.reinitialize(ctx)
	if err != nil {
		return err
	}
	w.release(active)
	w.active = active

	if err := w.stream.Start(ctx, active, w.store.Timeframes()); err != nil {
		return fmt.Errorf("restart stream: %w", err)
	}
	w.ready.SetReady(true)
	logger.Info("[BOOT] daily reset done: %d symbols active", len(active))
	return nil
}

func (w *Warmuper) reinitialize(ctx context.Context) ([]string, error) {
	delay := w.retryBase
	for attempt := 1; ; attempt++ {
		active := w.store.Reinitialize(ctx)
		if len(active) > 0 {
			return active, nil
		}
		logger.Warn("[BOOT] reset attempt %d: %v, retry in %s", attempt, ErrNoActiveSymbols, delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %w", ErrNoActiveSymbols, ctx.Err())
		case <-t.C:
		}
		delay = min(delay*2, w.retryMax)
	}
}

// release отдаёт reconciler'у сигналы символов, выпавших из активного набора.
func (w *Warmuper) release(active []string) {
	if w.signals == nil {
		return
	}
	keep := make(map[string]struct{}, len(active))
	for _, s := range active {
		keep[s] = struct{}{}
	}
	var dropped []string
	for _, s := range w.active {
		if _, ok := keep[s]; !ok {
			dropped = append(dropped, s)
		}
	}
	if len(dropped) == 0 {
		return
	}
	n := w.signals.Release("", dropped)
	logger.Warn("[BOOT] %d symbols dropped on reset, %d open signals released", len(dropped), n)
}

// RunDailyReset вызывает Reset каждый день в resetAt UTC до отмены ctx.
func (w *Warmuper) RunDailyReset(ctx context.Context) {
	for {
		next := NextReset(w.now(), w.resetAt)
		logger.Info("[BOOT] next reset at %s", next.Format(time.RFC3339))

		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		if err := w.Reset(ctx); err != nil {
			logger.Error("[BOOT] daily reset: %v", err)
		}
	}
}

// ParseResetAt переводит "HH:MM" в смещение от полуночи.
func ParseResetAt(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("reset_at %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// NextReset — ближайший момент строго после now.
func NextReset(now time.Time, offset time.Duration) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(offset)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
