// Package metrics holds the Prometheus collectors for the MDM server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "droidmdm"

// Metrics is safe to use through a nil pointer; every recorder is then a
// no-op. Tests and the one-shot CLI commands rely on that.
type Metrics struct {
	registry *prometheus.Registry

	heartbeats         prometheus.Counter
	registrations      *prometheus.CounterVec
	tokensConsumed     prometheus.Counter
	commandsCreated    *prometheus.CounterVec
	commandTransitions *prometheus.CounterVec
	apkDownloads       prometheus.Counter
	commandsCleaned    prometheus.Counter

	reqCnt *prometheus.CounterVec
	reqDur *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Device heartbeats received.",
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Device registrations, by whether the enrollment was new.",
		}, []string{"result"}),
		tokensConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollment_tokens_consumed_total",
			Help:      "Enrollment tokens consumed by a device.",
		}),
		commandsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_created_total",
			Help:      "Commands queued, by type.",
		}, []string{"type"}),
		commandTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_transitions_total",
			Help:      "Command status changes, by new status.",
		}, []string{"status"}),
		apkDownloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apk_downloads_total",
			Help:      "DPC APK downloads authorised.",
		}),
		commandsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_cleaned_total",
			Help:      "Completed commands removed by retention cleanup.",
		}),
		reqCnt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests made.",
		}, []string{"handler", "method", "code"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "The HTTP request latencies in seconds.",
			// Use default buckets, as they are suited for durations.
		}, []string{"handler", "method", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.heartbeats, m.registrations, m.tokensConsumed, m.commandsCreated,
		m.commandTransitions, m.apkDownloads, m.commandsCleaned,
		m.reqCnt, m.reqDur,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument decorates h with request count and latency collectors labelled
// with name.
func (m *Metrics) Instrument(name string, h http.Handler) http.Handler {
	if m == nil {
		return h
	}
	labels := prometheus.Labels{"handler": name}
	return promhttp.InstrumentHandlerDuration(m.reqDur.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(m.reqCnt.MustCurryWith(labels), h))
}

func (m *Metrics) Heartbeat() {
	if m != nil {
		m.heartbeats.Inc()
	}
}

func (m *Metrics) Registration(created bool) {
	if m == nil {
		return
	}
	result := "updated"
	if created {
		result = "new"
	}
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) TokenConsumed() {
	if m != nil {
		m.tokensConsumed.Inc()
	}
}

func (m *Metrics) CommandCreated(commandType string) {
	if m != nil {
		m.commandsCreated.WithLabelValues(commandType).Inc()
	}
}

func (m *Metrics) CommandTransition(status string) {
	if m != nil {
		m.commandTransitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) APKDownload() {
	if m != nil {
		m.apkDownloads.Inc()
	}
}

func (m *Metrics) CommandsCleaned(n int64) {
	if m != nil {
		m.commandsCleaned.Add(float64(n))
	}
}
