package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	probesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnrun_probes_total",
			Help: "Total number of backend liveness probes",
		},
		[]string{"backend", "result"},
	)

	installsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnrun_installs_total",
			Help: "Total number of backend installations",
		},
		[]string{"backend", "status"},
	)

	spawnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnrun_spawns_total",
			Help: "Total number of backend process spawns",
		},
		[]string{"backend", "status"},
	)

	processExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnrun_process_exits_total",
			Help: "Total number of spawned backend processes that exited",
		},
		[]string{"backend"},
	)

	readinessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fnrun_readiness_seconds",
			Help:    "Time from spawn until a backend was declared ready",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 2.5, 5, 10, 30},
		},
		[]string{"backend"},
	)

	deploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnrun_deployments_total",
			Help: "Total number of function deployments to the emulator",
		},
		[]string{"status"},
	)

	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnrun_registrations_total",
			Help: "Total number of gateway reset and configure pairs",
		},
		[]string{"status"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordProbe(backend string, running bool, err error) {
	result := "stopped"
	switch {
	case err != nil:
		result = "error"
	case running:
		result = "running"
	}
	probesTotal.WithLabelValues(backend, result).Inc()
}

func RecordInstall(backend string, err error) {
	installsTotal.WithLabelValues(backend, status(err)).Inc()
}

func RecordSpawn(backend string, err error) {
	spawnsTotal.WithLabelValues(backend, status(err)).Inc()
}

func RecordReady(backend string, d time.Duration) {
	readinessDuration.WithLabelValues(backend).Observe(d.Seconds())
}

func RecordExit(backend string) {
	processExitsTotal.WithLabelValues(backend).Inc()
}

func RecordDeployment(err error) {
	deploymentsTotal.WithLabelValues(status(err)).Inc()
}

func RecordRegistration(err error) {
	registrationsTotal.WithLabelValues(status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
