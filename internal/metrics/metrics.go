// Package metrics exposes control-loop measurements as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements compensation.Observer over a Prometheus registry.
type Metrics struct {
	writesApplied *prometheus.CounterVec
	writesFailed  *prometheus.CounterVec
	vetoes        *prometheus.CounterVec
	cyclesSkipped *prometheus.CounterVec
	currentOffset *prometheus.GaugeVec
	heatingRate   *prometheus.GaugeVec
}

// New creates and registers the metric set.
func New() *Metrics {
	m := &Metrics{
		writesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heatd_writes_applied_total",
			Help: "Total compensated setpoint writes applied per room.",
		}, []string{"room"}),
		writesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heatd_writes_failed_total",
			Help: "Total actuator write failures per room.",
		}, []string{"room"}),
		vetoes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heatd_writes_vetoed_total",
			Help: "Total setpoint writes vetoed per room and reason.",
		}, []string{"room", "reason"}),
		cyclesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heatd_cycles_skipped_total",
			Help: "Total evaluation cycles skipped on invalid readings per room.",
		}, []string{"room"}),
		currentOffset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "heatd_offset_celsius",
			Help: "Latest computed sensor offset per room.",
		}, []string{"room"}),
		heatingRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "heatd_heating_rate_celsius_per_minute",
			Help: "Learned heating rate estimate per room.",
		}, []string{"room"}),
	}

	prometheus.MustRegister(
		m.writesApplied,
		m.writesFailed,
		m.vetoes,
		m.cyclesSkipped,
		m.currentOffset,
		m.heatingRate,
	)

	return m
}

// Handler returns the metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// WriteApplied implements compensation.Observer.
func (m *Metrics) WriteApplied(room string) {
	if m == nil {
		return
	}
	m.writesApplied.WithLabelValues(room).Inc()
}

// WriteFailed implements compensation.Observer.
func (m *Metrics) WriteFailed(room string) {
	if m == nil {
		return
	}
	m.writesFailed.WithLabelValues(room).Inc()
}

// Veto implements compensation.Observer.
func (m *Metrics) Veto(room, reason string) {
	if m == nil {
		return
	}
	m.vetoes.WithLabelValues(room, reason).Inc()
}

// CycleSkipped implements compensation.Observer.
func (m *Metrics) CycleSkipped(room string) {
	if m == nil {
		return
	}
	m.cyclesSkipped.WithLabelValues(room).Inc()
}

// ObserveOffset implements compensation.Observer.
func (m *Metrics) ObserveOffset(room string, offset float64) {
	if m == nil {
		return
	}
	m.currentOffset.WithLabelValues(room).Set(offset)
}

// ObserveRate implements compensation.Observer.
func (m *Metrics) ObserveRate(room string, rate float64) {
	if m == nil {
		return
	}
	m.heatingRate.WithLabelValues(room).Set(rate)
}
