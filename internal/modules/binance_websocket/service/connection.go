package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"signal_bot/internal/models"
	"signal_bot/internal/observability"
	"signal_bot/pkg/logger"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateErrored
	StateReconnectScheduled
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	case StateReconnectScheduled:
		return "reconnect_scheduled"
	case StateAbandoned:
		return "abandoned"
	}
	return "unknown"
}

type Status struct {
	ID          string    `json:"id"`
	Timeframe   string    `json:"timeframe"`
	Symbols     int       `json:"symbols"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	Responsive  bool      `json:"responsive"`
	LastMessage time.Time `json:"lastMessage"`
}

// Connection — одна подписка на пачку символов одного таймфрейма.
// Сокетом владеет единственная горутина Run, события уходят в out.
type Connection struct {
	id      string
	url     string
	tf      models.Timeframe
	symbols []string
	cfg     Config
	dialer  *websocket.Dialer
	out     chan<- models.CandleEvent
	metrics *observability.Metrics
	// вызывается один раз, когда попытки переподключения исчерпаны
	onAbandon AbandonFunc

	state      atomic.Int32
	failures   atomic.Int32
	responsive atomic.Bool
	lastMsg    atomic.Int64
}

// AbandonFunc получает таймфрейм и символы брошенного соединения.
type AbandonFunc func(tf models.Timeframe, symbols []string)

func streamURL(base string, symbols []string, tf models.Timeframe) string {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@kline_" + tf.BinanceInterval()
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(streams, "/")
}

func newConnection(id string, cfg Config, tf models.Timeframe, symbols []string, out chan<- models.CandleEvent, m *observability.Metrics) *Connection {
	return &Connection{
		id:      id,
		url:     streamURL(cfg.BaseURL, symbols, tf),
		tf:      tf,
		symbols: symbols,
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		out:     out,
		metrics: m,
	}
}

func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

func (c *Connection) Status() Status {
	st := Status{
		ID:         c.id,
		Timeframe:  string(c.tf),
		Symbols:    len(c.symbols),
		State:      c.State().String(),
		Failures:   int(c.failures.Load()),
		Responsive: c.responsive.Load(),
	}
	if ms := c.lastMsg.Load(); ms > 0 {
		st.LastMessage = time.UnixMilli(ms)
	}
	return st
}

// Run крутит Connecting → Open → Closed|Errored → ReconnectScheduled пока не
// отменён ctx или не исчерпаны попытки переподключения.
func (c *Connection) Run(ctx context.Context) {
	for {
		c.setState(StateConnecting)
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return
		}

		failures := int(c.failures.Add(1))
		if err != nil {
			c.setState(StateErrored)
			logger.Warn("[WS] %s %s: %v", c.id, c.tf, err)
		} else {
			c.setState(StateClosed)
		}

		if failures > c.cfg.MaxReconnectAttempts {
			c.setState(StateAbandoned)
			c.metrics.ConnectionsAbandoned.Inc()
			logger.Error("[WS] %s %s abandoned after %d consecutive failures (%d symbols)", c.id, c.tf, failures, len(c.symbols))
			if c.onAbandon != nil {
				c.onAbandon(c.tf, c.symbols)
			}
			return
		}

		delay := Backoff(c.cfg.ReconnectBase, failures)
		c.setState(StateReconnectScheduled)
		c.metrics.Reconnects.Inc()
		logger.Info("[WS] %s %s reconnect #%d in %s", c.id, c.tf, failures, delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			c.setState(StateClosed)
			return
		case <-t.C:
		}
	}
}

func (c *Connection) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.failures.Store(0)
	c.responsive.Store(true)
	c.setState(StateOpen)
	c.metrics.OpenConnections.Inc()
	defer c.metrics.OpenConnections.Dec()
	logger.Info("[WS] %s %s open, %d symbols", c.id, c.tf, len(c.symbols))

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pongs := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pongs <- struct{}{}:
		default:
		}
		return nil
	})

	// закрываем сокет при остановке, чтобы разблокировать ReadMessage
	go func() {
		<-sessCtx.Done()
		_ = conn.Close()
	}()
	go c.keepAlive(sessCtx, conn, pongs)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		c.lastMsg.Store(time.Now().UnixMilli())

		ev, err := parseKline(msg, c.tf)
		if err != nil {
			if errors.Is(err, errNotKline) {
				c.metrics.StreamMessages.WithLabelValues("ignored").Inc()
				continue
			}
			c.metrics.StreamMessages.WithLabelValues("malformed").Inc()
			logger.Warn("[WS] %s malformed message dropped: %v", c.id, err)
			continue
		}
		c.metrics.StreamMessages.WithLabelValues("ok").Inc()

		select {
		case c.out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) keepAlive(ctx context.Context, conn *websocket.Conn, pongs <-chan struct{}) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.responsive.Store(c.ping(ctx, conn, pongs))
		}
	}
}

// ping не переподключает: переподключение только по закрытию/ошибке сокета.
func (c *Connection) ping(ctx context.Context, conn *websocket.Conn, pongs <-chan struct{}) bool {
	select {
	case <-pongs:
	default:
	}

	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.LivenessTimeout)); err != nil {
		c.metrics.Unresponsive.Inc()
		logger.Warn("[WS] %s unresponsive: ping: %v", c.id, err)
		return false
	}

	wait := time.NewTimer(c.cfg.LivenessTimeout)
	defer wait.Stop()
	select {
	case <-pongs:
		return true
	case <-ctx.Done():
		return c.responsive.Load()
	case <-wait.C:
		c.metrics.Unresponsive.Inc()
		logger.Warn("[WS] %s unresponsive: no pong in %s", c.id, c.cfg.LivenessTimeout)
		return false
	}
}
