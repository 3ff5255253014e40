package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application counters exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	EnergyWattHours prometheus.Counter
	SweepTicks      prometheus.Counter
	SweepForcedStop prometheus.Counter
}

// New registers the application metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chargebridge_sessions_started_total",
			Help: "Charging sessions started.",
		}),
		SessionsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chargebridge_sessions_stopped_total",
			Help: "Charging sessions stopped, user and system initiated.",
		}),
		EnergyWattHours: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chargebridge_energy_watt_hours_total",
			Help: "Energy delivered across closed sessions.",
		}),
		SweepTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chargebridge_sweep_ticks_total",
			Help: "Monitoring sweep iterations.",
		}),
		SweepForcedStop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chargebridge_sweep_forced_stops_total",
			Help: "Sessions force-closed by the monitoring sweep.",
		}),
	}

	registry.MustRegister(
		m.SessionsStarted,
		m.SessionsStopped,
		m.EnergyWattHours,
		m.SweepTicks,
		m.SweepForcedStop,
	)
	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
