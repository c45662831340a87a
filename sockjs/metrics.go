package sockjs

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by sessions. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	connectAttempts   *prometheus.CounterVec
	sessionsOpen      prometheus.Gauge
	framesReceived    *prometheus.CounterVec
	messagesReceived  prometheus.Counter
	messagesSent      prometheus.Counter
	decodeErrors      prometheus.Counter
	heartbeatTimeouts prometheus.Counter
	disconnects       *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg under namespace, e.g. "sockjs_client".
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Transport connect attempts during negotiation",
		}, []string{"transport", "result"}),
		sessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Sessions currently in open state",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames received, by frame type",
		}, []string{"type"}),
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Application messages received",
		}),
		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Application messages sent",
		}),
		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Frames dropped because they could not be decoded",
		}),
		heartbeatTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_timeouts_total",
			Help:      "Sessions closed because the server went silent",
		}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Closed sessions, by close code",
		}, []string{"code"}),
	}
}

func (m *Metrics) connectAttempt(transport, result string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(transport, result).Inc()
}

func (m *Metrics) frameReceived(t FrameType) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) messageReceived(n int) {
	if m == nil {
		return
	}
	m.messagesReceived.Add(float64(n))
}

func (m *Metrics) messageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

func (m *Metrics) decodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) heartbeatTimeout() {
	if m == nil {
		return
	}
	m.heartbeatTimeouts.Inc()
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpen.Inc()
}

func (m *Metrics) sessionClosed(code int, wasOpen bool) {
	if m == nil {
		return
	}
	if wasOpen {
		m.sessionsOpen.Dec()
	}
	m.disconnects.WithLabelValues(strconv.Itoa(code)).Inc()
}
