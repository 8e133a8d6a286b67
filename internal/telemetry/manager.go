// Package telemetry holds the Prometheus collectors exported on /metrics.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fitnerd"

type Manager struct {
	// counters
	CounterRequests        *prometheus.CounterVec
	CounterJobs            *prometheus.CounterVec
	CounterActivitiesSaved prometheus.Counter
	CounterWebhookEvents   *prometheus.CounterVec
	CounterTokenRefreshes  *prometheus.CounterVec

	// gauges
	GaugeRequests  prometheus.Gauge
	GaugeQueueJobs *prometheus.GaugeVec

	// histograms
	HistRequestDuration *prometheus.HistogramVec
	HistJobDuration     *prometheus.HistogramVec
}

func NewTestManager() *Manager {
	return NewManager(prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager(reg), reg
}

func NewManager(reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	return &Manager{
		CounterRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "The total number of incoming requests",
		}, []string{"method", "route", "status"}),
		CounterJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs that reached a final or retry state",
		}, []string{"kind", "outcome"}),
		CounterActivitiesSaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "activities_saved_total",
			Help:      "Activities written by sync jobs",
		}),
		CounterWebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Webhook events received, by object and aspect type",
		}, []string{"object_type", "aspect_type", "accepted"}),
		CounterTokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Upstream token refresh attempts",
		}, []string{"result"}),

		GaugeRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "current_requests",
			Help:      "Current number of requests served",
		}),
		GaugeQueueJobs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "queued",
			Help:      "Jobs in the queue by state",
		}, []string{"state"}),

		HistRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		HistJobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of a single job attempt in seconds",
			Buckets:   []float64{0.01, 0.1, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"kind"}),
	}
}

// JobFinished records one job attempt.
func (m *Manager) JobFinished(kind, outcome string, took time.Duration) {
	m.CounterJobs.WithLabelValues(kind, outcome).Inc()
	m.HistJobDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Manager) ActivitiesSaved(n int64) {
	m.CounterActivitiesSaved.Add(float64(n))
}

// QueueDepth replaces the per-state job gauges.
func (m *Manager) QueueDepth(counts map[string]int64) {
	m.GaugeQueueJobs.Reset()
	for state, n := range counts {
		m.GaugeQueueJobs.WithLabelValues(state).Set(float64(n))
	}
}

func (m *Manager) WebhookEvent(objectType, aspectType string, accepted bool) {
	m.CounterWebhookEvents.WithLabelValues(objectType, aspectType, strconv.FormatBool(accepted)).Inc()
}

// TokenRefresh matches auth.RefreshObserver.
func (m *Manager) TokenRefresh(_ int64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CounterTokenRefreshes.WithLabelValues(result).Inc()
}

// Request records a served HTTP request.
func (m *Manager) Request(method, route string, status int, took time.Duration) {
	m.CounterRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HistRequestDuration.WithLabelValues(route).Observe(took.Seconds())
}
