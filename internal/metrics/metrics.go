package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the chat and access-control collectors. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	connections      prometheus.Gauge
	connectionsTotal prometheus.Counter
	broadcasts       *prometheus.CounterVec
	transportErrors  *prometheus.CounterVec
	messages         *prometheus.CounterVec
	accessDecisions  *prometheus.CounterVec
	ruleRefreshes    *prometheus.CounterVec
	rulesLoaded      prometheus.Gauge
}

// New creates the collectors and registers them on reg, or on the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blog_chat_connections",
			Help: "Current number of open chat connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blog_chat_connections_total",
			Help: "Chat connections accepted since start.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blog_chat_broadcasts_total",
			Help: "Broadcast frames by chat type.",
		}, []string{"type"}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blog_chat_transport_errors_total",
			Help: "Failed deliveries to chat connections by reason.",
		}, []string{"reason"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blog_chat_messages_total",
			Help: "Inbound chat frames by type and result.",
		}, []string{"type", "result"}),
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blog_access_decisions_total",
			Help: "Access decisions by outcome.",
		}, []string{"outcome"}),
		ruleRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blog_access_rule_refreshes_total",
			Help: "Rule table reloads by result.",
		}, []string{"result"}),
		rulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blog_access_rules",
			Help: "Rules in the live access table.",
		}),
	}

	reg.MustRegister(
		m.connections,
		m.connectionsTotal,
		m.broadcasts,
		m.transportErrors,
		m.messages,
		m.accessDecisions,
		m.ruleRefreshes,
		m.rulesLoaded,
	)
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) Broadcast(chatType string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(chatType).Inc()
}

func (m *Metrics) TransportError(reason string) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) Message(chatType, result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(chatType, result).Inc()
}

func (m *Metrics) AccessDecision(outcome string) {
	if m == nil {
		return
	}
	m.accessDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RuleRefresh(result string, rules int) {
	if m == nil {
		return
	}
	m.ruleRefreshes.WithLabelValues(result).Inc()
	if result == "ok" {
		m.rulesLoaded.Set(float64(rules))
	}
}
