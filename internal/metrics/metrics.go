package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relay_sender"

// states lists every connection state label so the gauge always exports all series.
var states = []string{"closed", "connecting", "open"}

// Metrics holds the sender's Prometheus collectors.
// It satisfies connection.Recorder.
type Metrics struct {
	state            *prometheus.GaugeVec
	messagesSent     prometheus.Counter
	messagesSkipped  prometheus.Counter
	messagesReceived prometheus.Counter
	parseErrors      prometheus.Counter
	reconnects       prometheus.Counter
	connectionErrors prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current WebSocket connection state, 0 otherwise.",
		}, []string{"state"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages transmitted to the relay server.",
		}),
		messagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_skipped_total",
			Help:      "Send ticks that found the connection not open.",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages of type receive.",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Inbound frames that were not valid JSON envelopes.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after a close or failed dial.",
		}),
		connectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Failed dials and abnormal connection terminations.",
		}),
	}

	collectors := []prometheus.Collector{
		m.state,
		m.messagesSent,
		m.messagesSkipped,
		m.messagesReceived,
		m.parseErrors,
		m.reconnects,
		m.connectionErrors,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	for _, s := range states {
		m.state.WithLabelValues(s).Set(0)
	}

	return m, nil
}

// SetState marks state as current.
func (m *Metrics) SetState(state string) {
	for _, s := range states {
		if s != state {
			m.state.WithLabelValues(s).Set(0)
		}
	}
	m.state.WithLabelValues(state).Set(1)
}

func (m *Metrics) MessageSent()     { m.messagesSent.Inc() }
func (m *Metrics) MessageSkipped()  { m.messagesSkipped.Inc() }
func (m *Metrics) MessageReceived() { m.messagesReceived.Inc() }
func (m *Metrics) ParseError()      { m.parseErrors.Inc() }
func (m *Metrics) Reconnect()       { m.reconnects.Inc() }
func (m *Metrics) ConnectionError() { m.connectionErrors.Inc() }
