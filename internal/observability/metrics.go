package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	FlowMessages     *prometheus.CounterVec
	EmergencyBypass  *prometheus.CounterVec
	Escalations      *prometheus.CounterVec
	ModelFailures    *prometheus.CounterVec
	UnsafeResponses  *prometheus.CounterVec
	TriageLevels     *prometheus.CounterVec
	SessionEvictions *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	ModelLatency     *prometheus.HistogramVec

	window *latencyWindow
}

// NewMetrics registers instruments on reg, or on the default registry when
// reg is nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of conversation sessions held in the session store.",
		}),
		FlowMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_messages_total",
			Help:      "Inbound patient messages by flow.",
		}, []string{"flow"}),
		EmergencyBypass: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_bypass_total",
			Help:      "Messages answered with the fixed emergency response without a model call.",
		}, []string{"flow"}),
		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalations to a human nurse by urgency.",
		}, []string{"urgency"}),
		ModelFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_failures_total",
			Help:      "Model calls that failed and were replaced by a fallback text.",
		}, []string{"provider", "flow"}),
		UnsafeResponses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsafe_responses_total",
			Help:      "Model replies that matched a diagnosis or dosing pattern.",
		}, []string{"flow"}),
		TriageLevels: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triage_assessments_total",
			Help:      "Triage assessments by assigned ESI level.",
		}, []string{"esi"}),
		SessionEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_removals_total",
			Help:      "Sessions removed from the store by cause.",
		}, []string{"cause"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ModelLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_latency_ms",
			Help:      "Model call latency in milliseconds by flow.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}, []string{"flow"}),
		window: newLatencyWindow(256),
	}
}

func (m *Metrics) IncFlowMessage(flow string) {
	if m == nil {
		return
	}
	m.FlowMessages.WithLabelValues(flow).Inc()
}

func (m *Metrics) IncEmergencyBypass(flow string) {
	if m == nil {
		return
	}
	m.EmergencyBypass.WithLabelValues(flow).Inc()
	m.window.ObserveIndicator("emergency_bypass")
}

func (m *Metrics) IncEscalation(urgency string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(urgency).Inc()
	m.window.ObserveIndicator("escalation_" + urgency)
}

func (m *Metrics) IncModelFailure(provider, flow string) {
	if m == nil {
		return
	}
	m.ModelFailures.WithLabelValues(provider, flow).Inc()
	m.window.ObserveIndicator("model_fallback")
}

func (m *Metrics) IncUnsafeResponse(flow string) {
	if m == nil {
		return
	}
	m.UnsafeResponses.WithLabelValues(flow).Inc()
	m.window.ObserveIndicator("disclaimer_appended")
}

func (m *Metrics) IncTriageLevel(level int) {
	if m == nil {
		return
	}
	m.TriageLevels.WithLabelValues(strconv.Itoa(level)).Inc()
}

func (m *Metrics) IncSessionRemoval(cause string) {
	if m == nil {
		return
	}
	m.SessionEvictions.WithLabelValues(cause).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// DecActiveSessions lowers the live-session gauge by one. It is safe to call
// from the session eviction hook, which cannot read the store size.
func (m *Metrics) DecActiveSessions() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) IncWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveModelLatency(flow string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Milliseconds())
	m.ModelLatency.WithLabelValues(flow).Observe(ms)
	m.window.Observe(flow, ms)
}

// LatencySnapshot reports rolling model latency percentiles per flow together
// with safety indicator counts.
func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
