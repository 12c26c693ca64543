package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the client. Each
// instance owns its registry so tests can build as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ConnectAttempts   *prometheus.CounterVec
	Reconnects        prometheus.Counter
	Ready             prometheus.Gauge
	Frames            *prometheus.CounterVec
	DecodeErrors      prometheus.Counter
	Dropped           *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	VoiceTransitions  *prometheus.CounterVec
	VoiceErrors       *prometheus.CounterVec
	FirstChunkLatency prometheus.Histogram
	ReplyLatency      prometheus.Histogram

	Stages *LatencyWindow
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ConnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Channel open attempts by outcome.",
		}, []string{"outcome"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnects scheduled after a close or open timeout.",
		}),
		Ready: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready",
			Help:      "1 while the session is authenticated and accepting commands.",
		}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped as malformed.",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Inbound events dropped by reason and type.",
		}, []string{"reason", "type"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbound_queue_depth",
			Help:      "Commands waiting for the readiness gate.",
		}),
		VoiceTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_transitions_total",
			Help:      "Voice state machine transitions.",
		}, []string{"from", "to"}),
		VoiceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_errors_total",
			Help:      "Voice capture and playback failures by kind.",
		}, []string{"kind"}),
		FirstChunkLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_chunk_latency_ms",
			Help:      "Latency from user message to first streamed chunk in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		ReplyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_latency_ms",
			Help:      "Latency from user message to final reply in milliseconds.",
			Buckets:   []float64{500, 1000, 2000, 4000, 8000, 16000, 32000, 64000},
		}),
		Stages: NewLatencyWindow(256),
	}
}

func (m *Metrics) ConnectAttempt(outcome string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) SetReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.Ready.Set(1)
		return
	}
	m.Ready.Set(0)
}

func (m *Metrics) Frame(direction, msgType string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) Drop(reason, msgType string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason, msgType).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) VoiceTransition(from, to string) {
	if m == nil {
		return
	}
	m.VoiceTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) VoiceError(kind string) {
	if m == nil {
		return
	}
	m.VoiceErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveFirstChunk(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstChunkLatency.Observe(float64(d.Milliseconds()))
	m.Stages.Observe(StageFirstChunk, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveReply(d time.Duration) {
	if m == nil {
		return
	}
	m.ReplyLatency.Observe(float64(d.Milliseconds()))
	m.Stages.Observe(StageReply, float64(d.Milliseconds()))
}

// ObserveStage records a latency sample that has no histogram of its own.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.Stages.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) Indicator(name string) {
	if m == nil {
		return
	}
	m.Stages.ObserveIndicator(name)
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
