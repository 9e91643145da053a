package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SupervisorStates lists the connection states reported by the supervisor gauge.
var SupervisorStates = []string{"idle", "connecting", "active", "erroring"}

// Metrics groups all Prometheus instruments used by the service. Every
// method is safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry
	stages   *stageWindow

	ActiveSessions      prometheus.Gauge
	TranscriptDecisions *prometheus.CounterVec
	Intents             *prometheus.CounterVec
	HandlerOutcomes     *prometheus.CounterVec
	CheckoutAnswers     *prometheus.CounterVec
	Orders              *prometheus.CounterVec
	Reconnects          *prometheus.CounterVec
	SupervisorState     *prometheus.GaugeVec
	WSMessages          *prometheus.CounterVec
	OracleLatency       prometheus.Histogram
}

// NewMetrics builds the instruments on a private registry so several
// instances can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stages:   newStageWindow(256),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live voice conversations.",
		}),
		TranscriptDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_decisions_total",
			Help:      "Transcripts accepted or suppressed, by reason.",
		}, []string{"reason"}),
		Intents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Classified intents by label and source.",
		}, []string{"label", "source"}),
		HandlerOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_outcomes_total",
			Help:      "Routed commands by handling label and result.",
		}, []string{"label", "result"}),
		CheckoutAnswers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_answers_total",
			Help:      "Checkout answers by step and outcome reason.",
		}, []string{"step", "reason"}),
		Orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order submissions by result.",
		}, []string{"result"}),
		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_reconnects_total",
			Help:      "Scheduled speech session reconnects by cause.",
		}, []string{"cause"}),
		SupervisorState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speech_sessions",
			Help:      "Speech sessions by connection state.",
		}, []string{"state"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		OracleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_latency_ms",
			Help:      "Oracle call latency in milliseconds.",
			Buckets:   []float64{50, 100, 200, 400, 700, 1000, 2000, 4000},
		}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) ObserveTranscript(reason string) {
	if m == nil {
		return
	}
	m.TranscriptDecisions.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveIntent(label, source string) {
	if m == nil {
		return
	}
	m.Intents.WithLabelValues(label, source).Inc()
}

func (m *Metrics) ObserveHandler(label string, handled bool) {
	if m == nil {
		return
	}
	result := "handled"
	if !handled {
		result = "unrecognized"
	}
	m.HandlerOutcomes.WithLabelValues(label, result).Inc()
}

func (m *Metrics) ObserveCheckout(step, reason string) {
	if m == nil {
		return
	}
	m.CheckoutAnswers.WithLabelValues(step, reason).Inc()
}

func (m *Metrics) ObserveOrder(err error) {
	if m == nil {
		return
	}
	result := "submitted"
	if err != nil {
		result = "failed"
	}
	m.Orders.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveReconnect(cause string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(cause).Inc()
}

// MoveSupervisor shifts one session from state from to state to. An empty
// from only adds and an empty to only removes.
func (m *Metrics) MoveSupervisor(from, to string) {
	if m == nil || from == to {
		return
	}
	if from != "" {
		m.SupervisorState.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.SupervisorState.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveOracleLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.OracleLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageOracle, durationMS(d))
}

// ObserveStage records a pipeline stage in the rolling latency window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, durationMS(d))
}

// ObserveIndicator counts a notable pipeline event in the latency window.
func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

// Latency returns the rolling per-stage latency summary.
func (m *Metrics) Latency() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
