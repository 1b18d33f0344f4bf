package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"signal_bot/internal/helper"
	"signal_bot/internal/models"
	"signal_bot/internal/observability"
	"signal_bot/pkg/logger"
)

var ErrPoolRunning = errors.New("stream pool already running")

// Pool держит по соединению на каждую пачку символов каждого таймфрейма.
type Pool struct {
	cfg     Config
	out     chan<- models.CandleEvent
	metrics *observability.Metrics

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
	conns     []*Connection
	onAbandon AbandonFunc
}

func NewPool(cfg Config, out chan<- models.CandleEvent, metrics *observability.Metrics) *Pool {
	return &Pool{
		cfg:     cfg.withDefaults(),
		out:     out,
		metrics: metrics,
	}
}

// OnAbandon задаёт обработчик брошенных соединений для следующих Start.
func (p *Pool) OnAbandon(fn AbandonFunc) {
	p.mu.Lock()
	p.onAbandon = fn
	p.mu.Unlock()
}

func (p *Pool) Start(ctx context.Context, symbols []string, tfs []models.Timeframe) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return ErrPoolRunning
	}
	if len(symbols) == 0 {
		logger.Warn("[WS] no symbols to stream")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}
	conns := make([]*Connection, 0)

	for _, tf := range tfs {
		for i, chunk := range helper.Chunk(symbols, p.cfg.ChunkSize) {
			c := newConnection(fmt.Sprintf("%s#%d", tf, i), p.cfg, tf, chunk, p.out, p.metrics)
			c.onAbandon = p.onAbandon
			conns = append(conns, c)
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.Run(runCtx)
			}()
		}
	}

	p.cancel, p.wg, p.conns = cancel, wg, conns
	logger.Info("[WS] started %d connections for %d symbols", len(conns), len(symbols))
	return nil
}

// Stop отменяет отложенные переподключения, закрывает все сокеты и ждёт
// завершения горутин. После возврата в out никто не пишет.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel, wg := p.cancel, p.wg
	p.cancel, p.wg, p.conns = nil, nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	wg.Wait()
	logger.Info("[WS] all connections stopped")
}

func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Pool) Statuses() []Status {
	p.mu.Lock()
	conns := p.conns
	p.mu.Unlock()

	out := make([]Status, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Status())
	}
	return out
}

// Connected — есть хотя бы одно открытое соединение.
func (p *Pool) Connected() bool {
	for _, st := range p.Statuses() {
		if st.State == StateOpen.String() {
			return true
		}
	}
	return false
}
