// Package observability содержит prometheus-метрики сервиса.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signal_bot"

type Metrics struct {
	registry *prometheus.Registry

	// стрим
	StreamMessages       *prometheus.CounterVec
	Reconnects           prometheus.Counter
	ConnectionsAbandoned prometheus.Counter
	Unresponsive         prometheus.Counter
	OpenConnections      prometheus.Gauge

	// рынок
	CandlesApplied prometheus.Counter
	SymbolsActive  prometheus.Gauge

	// сигналы
	SignalsOpened    prometheus.Counter
	OutcomesResolved *prometheus.CounterVec
	OutcomesBuffered prometheus.Gauge
	FlushErrors      prometheus.Counter

	// реконсилер
	ReconciledOutcomes prometheus.Counter
	ReconcileErrors    prometheus.Counter

	NotifyErrors prometheus.Counter
}

// NewMetrics регистрирует метрики в отдельном реестре, чтобы тесты могли
// создавать их сколько угодно раз.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StreamMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Websocket messages by parse result",
		}, []string{"result"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Scheduled reconnect attempts",
		}),
		ConnectionsAbandoned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connections_abandoned_total",
			Help:      "Connections given up after max reconnect attempts",
		}),
		Unresponsive: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "unresponsive_total",
			Help:      "Liveness pings without pong in time",
		}),
		OpenConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "open_connections",
			Help:      "Currently open websocket connections",
		}),
		CandlesApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "candles_applied_total",
			Help:      "Closed candles committed to rolling series",
		}),
		SymbolsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "symbols_active",
			Help:      "Symbols with initialized history",
		}),
		SignalsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "opened_total",
			Help:      "Signals opened",
		}),
		OutcomesResolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "outcomes_resolved_total",
			Help:      "Rule outcomes resolved live",
		}, []string{"result"}),
		OutcomesBuffered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "outcomes_buffered",
			Help:      "Outcomes waiting for flush",
		}),
		FlushErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "flush_errors_total",
			Help:      "Failed outcome batch writes",
		}),
		ReconciledOutcomes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "outcomes_total",
			Help:      "Outcomes recovered from history",
		}),
		ReconcileErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "errors_total",
			Help:      "Stale signals failed to reconcile",
		}),
		NotifyErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "errors_total",
			Help:      "Failed notification sends",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
