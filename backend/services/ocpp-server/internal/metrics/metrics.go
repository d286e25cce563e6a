package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the Go and process collectors attached.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics are the central system metrics. A nil *AppMetrics is valid and records nothing.
type AppMetrics struct {
	SessionsOnline   prometheus.Gauge
	SessionTakeovers prometheus.Counter
	InboundTotal     *prometheus.CounterVec // labels: type, action
	DecodeErrors     prometheus.Counter
	CorrelationTotal *prometheus.CounterVec // labels: outcome
}

// NewAppMetrics registers and returns the application metrics.
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		SessionsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ocpp_sessions_online",
			Help: "Current number of connected charge points.",
		}),
		SessionTakeovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocpp_session_takeovers_total",
			Help: "Sessions replaced by a newer connection for the same station.",
		}),
		InboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_inbound_messages_total",
			Help: "Inbound frames by message type and action.",
		}, []string{"type", "action"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocpp_decode_errors_total",
			Help: "Inbound frames dropped because they could not be decoded.",
		}),
		CorrelationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_correlations_total",
			Help: "Correlated admin requests by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.SessionsOnline, m.SessionTakeovers, m.InboundTotal, m.DecodeErrors, m.CorrelationTotal)
	return m
}

// SetOnline records the number of connected sessions.
func (m *AppMetrics) SetOnline(n int) {
	if m == nil {
		return
	}
	m.SessionsOnline.Set(float64(n))
}

// Takeover counts a replaced session.
func (m *AppMetrics) Takeover() {
	if m == nil {
		return
	}
	m.SessionTakeovers.Inc()
}

// Inbound counts a decoded frame.
func (m *AppMetrics) Inbound(messageType, action string) {
	if m == nil {
		return
	}
	m.InboundTotal.WithLabelValues(messageType, action).Inc()
}

// DecodeError counts a dropped frame.
func (m *AppMetrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

// Correlation counts a finished correlation.
func (m *AppMetrics) Correlation(outcome string) {
	if m == nil {
		return
	}
	m.CorrelationTotal.WithLabelValues(outcome).Inc()
}
