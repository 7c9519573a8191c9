// Package metrics exposes scan and tool execution metrics for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"scanpilot/pkg/engine"
	"scanpilot/pkg/runner"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Compile-time interface check.
var _ engine.Observer = (*Metrics)(nil)

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	scansStarted      prometheus.Counter
	scansFinished     *prometheus.CounterVec
	toolInvocations   *prometheus.CounterVec
	scanDuration      *prometheus.HistogramVec
	toolDuration      *prometheus.HistogramVec
	notificationsSent *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.scansStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanpilot_scans_started_total",
		Help: "Total number of scans accepted",
	})

	m.scansFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanpilot_scans_finished_total",
			Help: "Total number of scans that reached a terminal status",
		},
		[]string{"status"},
	)

	m.toolInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanpilot_tool_invocations_total",
			Help: "Total number of tool invocations by result",
		},
		[]string{"tool", "result"},
	)

	m.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanpilot_scan_duration_seconds",
			Help:    "Scan execution time from first dispatch to outcome",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"outcome"},
	)

	m.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanpilot_tool_duration_seconds",
			Help:    "Tool invocation time distribution",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"tool"},
	)

	m.notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanpilot_notifications_total",
			Help: "Scan notifications by delivery result",
		},
		[]string{"result"},
	)

	m.registry.MustRegister(
		m.scansStarted,
		m.scansFinished,
		m.toolInvocations,
		m.scanDuration,
		m.toolDuration,
		m.notificationsSent,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterQueue publishes the scan queue occupancy as gauges.
func (m *Metrics) RegisterQueue(q *engine.Queue) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "scanpilot_scans_running",
			Help: "Scans currently executing",
		}, func() float64 {
			running, _, _ := q.Status()
			return float64(running)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "scanpilot_scans_queued",
			Help: "Scans waiting for an execution slot",
		}, func() float64 {
			_, queued, _ := q.Status()
			return float64(queued)
		}),
	)
}

func (m *Metrics) ScanStarted() {
	m.scansStarted.Inc()
}

// ScanTerminal counts a scan by the status it was stored with.
func (m *Metrics) ScanTerminal(status string) {
	m.scansFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) NotificationSent(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notificationsSent.WithLabelValues(result).Inc()
}

func (m *Metrics) ToolFinished(tool string, kind runner.ResultKind, d time.Duration) {
	m.toolInvocations.WithLabelValues(tool, string(kind)).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) ScanFinished(kind engine.OutcomeKind, d time.Duration) {
	m.scanDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
