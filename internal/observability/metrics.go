package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	RoomMessages     *prometheus.CounterVec
	SynthesisCalls   *prometheus.CounterVec
	SynthesisLatency prometheus.Histogram
	FallbacksUsed    *prometheus.CounterVec
	BreakerTrips     prometheus.Counter
	BreakerState     prometheus.Gauge
	AssessmentJobs   *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active conversational voice sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		RoomMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_messages_total",
			Help:      "Room broadcast messages by direction and type.",
		}, []string{"direction", "type"}),
		SynthesisCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_calls_total",
			Help:      "Synthesis gateway calls by character and outcome.",
		}, []string{"character", "outcome"}),
		SynthesisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Synthesis latency in milliseconds.",
			Buckets:   []float64{100, 500, 1000, 2000},
		}),
		FallbacksUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_fallbacks_total",
			Help:      "Fallback resolutions by strategy.",
		}, []string{"strategy"}),
		BreakerTrips: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Times the voice circuit breaker transitioned to OPEN.",
		}),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_open",
			Help:      "1 when the voice circuit breaker is OPEN, 0 otherwise.",
		}),
		AssessmentJobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessment_jobs_total",
			Help:      "Assessment hand-off jobs by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveSynthesisLatency(d time.Duration) {
	m.SynthesisLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
