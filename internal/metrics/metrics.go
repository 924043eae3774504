package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "realm"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process starts.",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of requested stops.",
		}, []string{"name"},
	)
	processStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "start_failures_total",
			Help:      "Number of failed spawns.",
		}, []string{"name"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of exits that were not requested by realm.",
		}, []string{"name"},
	)
	processRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "running",
			Help:      "1 while the process is running, 0 otherwise.",
		}, []string{"name"},
	)
	processCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage of the process.",
		}, []string{"name"},
	)
	processRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "memory_rss_bytes",
			Help:      "Last sampled resident memory of the process.",
		}, []string{"name"},
	)

	proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Proxied requests by upstream process and response code.",
		}, []string{"process", "code"},
	)
	proxyUpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "upstream_errors_total",
			Help:      "Failures talking to an upstream, by kind.",
		}, []string{"process", "kind"},
	)
	proxyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "Time spent serving a proxied request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"process"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processStarts, processStops, processStartFailures, processExits,
		processRunning, processCPU, processRSS,
		proxyRequests, proxyUpstreamErrors, proxyDuration,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Registered reports whether Register has succeeded.
func Registered() bool { return regOK.Load() }

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
		processRunning.WithLabelValues(name).Set(1)
	}
}

func IncStop(name string) {
	if regOK.Load() {
		processStops.WithLabelValues(name).Inc()
		processRunning.WithLabelValues(name).Set(0)
	}
}

func IncStartFailure(name string) {
	if regOK.Load() {
		processStartFailures.WithLabelValues(name).Inc()
	}
}

func IncExit(name string) {
	if regOK.Load() {
		processExits.WithLabelValues(name).Inc()
		processRunning.WithLabelValues(name).Set(0)
	}
}

func SetResources(name string, r Resources) {
	if regOK.Load() {
		processCPU.WithLabelValues(name).Set(r.CPUPercent)
		processRSS.WithLabelValues(name).Set(float64(r.MemoryRSS))
	}
}

// Forget drops every per-process series for name, used when a process is
// removed from the registry.
func Forget(name string) {
	if regOK.Load() {
		for _, v := range []*prometheus.GaugeVec{processRunning, processCPU, processRSS} {
			v.DeleteLabelValues(name)
		}
	}
}

func IncProxyRequest(process, code string) {
	if regOK.Load() {
		proxyRequests.WithLabelValues(process, code).Inc()
	}
}

func IncUpstreamError(process, kind string) {
	if regOK.Load() {
		proxyUpstreamErrors.WithLabelValues(process, kind).Inc()
	}
}

func ObserveProxyDuration(process string, seconds float64) {
	if regOK.Load() {
		proxyDuration.WithLabelValues(process).Observe(seconds)
	}
}
