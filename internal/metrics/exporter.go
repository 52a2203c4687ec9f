// Package metrics exports supervisor counters and state gauges in Prometheus
// exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var lifecycleStates = []string{"starting", "running", "unhealthy", "stopped", "failed"}

// Exporter implements the supervisor's metrics recorder and serves /metrics.
type Exporter struct {
	registry  *prometheus.Registry
	startTime time.Time

	ticks  *prometheus.CounterVec
	probes *prometheus.CounterVec
	states *prometheus.GaugeVec
}

// NewExporter creates an exporter with its own registry.
func NewExporter() *Exporter {
	e := &Exporter{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_ticks_total",
			Help: "Health-check ticks executed per container",
		}, []string{"container"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_probe_results_total",
			Help: "Health probe outcomes per container",
		}, []string{"container", "outcome"}),
		states: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_container_state",
			Help: "Current lifecycle state per container (1 for the active state)",
		}, []string{"container", "state"}),
	}

	e.registry.MustRegister(e.ticks, e.probes, e.states)
	e.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "warden_uptime_seconds",
		Help: "Time since the daemon started",
	}, func() float64 {
		return time.Since(e.startTime).Seconds()
	}))
	return e
}

// RecordTick counts one executed tick.
func (e *Exporter) RecordTick(containerID string) {
	e.ticks.WithLabelValues(containerID).Inc()
}

// RecordProbe counts one classified probe outcome.
func (e *Exporter) RecordProbe(containerID, outcome string) {
	e.probes.WithLabelValues(containerID, outcome).Inc()
}

// RecordState marks the container's active state; the other state series for
// that container drop to zero so only one is ever set.
func (e *Exporter) RecordState(containerID, state string) {
	for _, s := range lifecycleStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		e.states.WithLabelValues(containerID, s).Set(value)
	}
}

// Forget drops every series for a destroyed container.
func (e *Exporter) Forget(containerID string) {
	e.ticks.DeletePartialMatch(prometheus.Labels{"container": containerID})
	e.probes.DeletePartialMatch(prometheus.Labels{"container": containerID})
	e.states.DeletePartialMatch(prometheus.Labels{"container": containerID})
}

// ServeHTTP renders the registry in text exposition format.
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	families, err := e.registry.Gather()
	if err != nil {
		http.Error(w, fmt.Sprintf("error gathering metrics: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return
		}
	}
}
