package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// Each Metrics owns its registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	Callbacks          *prometheus.CounterVec
	InvalidSignatures  prometheus.Counter
	Transitions        *prometheus.CounterVec
	AMDOverrides       prometheus.Counter
	VoicemailDrops     *prometheus.CounterVec
	Corrections        *prometheus.CounterVec
	LiveSubscribers    *prometheus.GaugeVec
	LiveEventsDropped  *prometheus.CounterVec
	SideEffectFailures *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_callbacks_total",
			Help:      "Telephony callbacks by kind and outcome.",
		}, []string{"kind", "outcome"}),
		InvalidSignatures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_signatures_total",
			Help:      "Webhook requests rejected for a bad provider signature.",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_transitions_total",
			Help:      "Applied call status transitions by target status.",
		}, []string{"to"}),
		AMDOverrides: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "amd_overrides_total",
			Help:      "Machine detections ignored because the call was already connected.",
		}),
		VoicemailDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voicemail_drops_total",
			Help:      "Voicemail drop attempts by result.",
		}, []string{"result"}),
		Corrections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disposition_corrections_total",
			Help:      "Disposition corrections by result.",
		}, []string{"result"}),
		LiveSubscribers: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subscribers",
			Help:      "Connected live-update subscribers by audience.",
		}, []string{"audience"}),
		LiveEventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_events_dropped_total",
			Help:      "Live events dropped because a subscriber buffer was full.",
		}, []string{"audience"}),
		SideEffectFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Non-fatal side effects that failed after the primary write.",
		}, []string{"effect"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// The helpers below tolerate a nil receiver so packages can run without metrics.

func (m *Metrics) Callback(kind, outcome string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) InvalidSignature() {
	if m == nil {
		return
	}
	m.InvalidSignatures.Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) AMDOverride() {
	if m == nil {
		return
	}
	m.AMDOverrides.Inc()
}

func (m *Metrics) VoicemailDrop(result string) {
	if m == nil {
		return
	}
	m.VoicemailDrops.WithLabelValues(result).Inc()
}

func (m *Metrics) Correction(result string) {
	if m == nil {
		return
	}
	m.Corrections.WithLabelValues(result).Inc()
}

func (m *Metrics) SubscriberDelta(audience string, delta float64) {
	if m == nil {
		return
	}
	m.LiveSubscribers.WithLabelValues(audience).Add(delta)
}

func (m *Metrics) EventDropped(audience string) {
	if m == nil {
		return
	}
	m.LiveEventsDropped.WithLabelValues(audience).Inc()
}

func (m *Metrics) SideEffectFailed(effect string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(effect).Inc()
}
