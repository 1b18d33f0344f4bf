package service

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"

	"signal_bot/internal/models"
	"signal_bot/pkg/logger"
)

type outcomeKey struct {
	signalID string
	ruleID   int
}

// Flush пишет буфер исходов пачками. Если запись уже идёт — ничего не делает,
// буфер продолжает копиться. Из буфера удаляется только записанное.
func (m *Manager) Flush(ctx context.Context) error {
	if !m.flushing.CompareAndSwap(false, true) {
		return nil
	}
	defer m.flushing.Store(false)
	return m.flush(ctx)
}

func (m *Manager) flush(ctx context.Context) error {
	m.bufMu.Lock()
	batch := append([]models.Outcome(nil), m.buffer...)
	m.bufMu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "signals.flush")
	defer span.Finish()
	span.SetTag("outcomes", len(batch))

	written := 0
	var err error
	for written < len(batch) {
		end := min(written+m.cfg.FlushChunk, len(batch))
		if err = m.storage.CreateOutcomesBatch(ctx, batch[written:end]); err != nil {
			break
		}
		written = end
	}

	if written > 0 {
		done := make(map[outcomeKey]struct{}, written)
		for _, o := range batch[:written] {
			done[outcomeKey{o.SignalID, o.RuleID}] = struct{}{}
		}
		m.bufMu.Lock()
		kept := m.buffer[:0]
		for _, o := range m.buffer {
			if _, ok := done[outcomeKey{o.SignalID, o.RuleID}]; !ok {
				kept = append(kept, o)
			}
		}
		m.buffer = kept
		m.metrics.OutcomesBuffered.Set(float64(len(m.buffer)))
		m.bufMu.Unlock()
	}

	if err != nil {
		m.metrics.FlushErrors.Inc()
		span.SetTag("error", true)
		return fmt.Errorf("flush outcomes (%d/%d written): %w", written, len(batch), err)
	}
	logger.Debug("[SIGNALS] flushed %d outcomes", written)
	return nil
}

// Run сбрасывает буфер по таймеру до отмены ctx.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.Flush(ctx); err != nil {
				logger.Error("[SIGNALS] %v", err)
			}
		}
	}
}

// Close перестаёт принимать события, дожидается текущей записи и сбрасывает
// остаток буфера. Ограничен дедлайном ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.closed.Store(true)

	for !m.flushing.CompareAndSwap(false, true) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for in-flight flush: %w", ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}
	defer m.flushing.Store(false)

	if err := m.flush(ctx); err != nil {
		return err
	}
	logger.Info("[SIGNALS] shutdown flush done")
	return nil
}
