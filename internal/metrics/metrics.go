// Package metrics exposes controller counters in Prometheus format.
//
// All recording methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diffdrive"

// Metrics holds the controller collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	motorErrors        *prometheus.CounterVec
	commands           *prometheus.CounterVec
	watchdogExpiries   prometheus.Counter
	stoInconsistencies prometheus.Counter
	powerReenables     prometheus.Counter
	odometryPublished  prometheus.Counter
	handlerLatency     *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		motorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "motor_errors_total",
			Help:      "Failed motor channel calls.",
		}, []string{"wheel", "op", "code"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Velocity commands applied by the control loop.",
		}, []string{"mode"}),
		watchdogExpiries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_expiries_total",
			Help:      "Zero-velocity stops issued by the command watchdog.",
		}),
		stoInconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sto_inconsistencies_total",
			Help:      "Safety polls where left and right STO disagreed.",
		}),
		powerReenables: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "power_reenables_total",
			Help:      "Requests to enter OperationEnabled on both wheels.",
		}),
		odometryPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "odometry_published_total",
			Help:      "Odometry messages published.",
		}),
		handlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_handler_seconds",
			Help:      "Control loop handler run time.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .02, .05, .1, .25},
		}, []string{"handler"}),
	}

	m.registry.MustRegister(
		m.motorErrors,
		m.commands,
		m.watchdogExpiries,
		m.stoInconsistencies,
		m.powerReenables,
		m.odometryPublished,
		m.handlerLatency,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MotorError(wheel, op, code string) {
	if m == nil {
		return
	}
	m.motorErrors.WithLabelValues(wheel, op, code).Inc()
}

func (m *Metrics) Command(mode string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(mode).Inc()
}

func (m *Metrics) WatchdogExpired() {
	if m == nil {
		return
	}
	m.watchdogExpiries.Inc()
}

func (m *Metrics) STOInconsistent() {
	if m == nil {
		return
	}
	m.stoInconsistencies.Inc()
}

func (m *Metrics) PowerReenabled() {
	if m == nil {
		return
	}
	m.powerReenables.Inc()
}

func (m *Metrics) OdometryPublished() {
	if m == nil {
		return
	}
	m.odometryPublished.Inc()
}

// ObserveHandler records how long a loop handler ran.
func (m *Metrics) ObserveHandler(handler string, d time.Duration) {
	if m == nil {
		return
	}
	m.handlerLatency.WithLabelValues(handler).Observe(d.Seconds())
}
