package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	autoApprovals   prometheus.Counter
	lockWait        prometheus.Histogram
	lockTimeouts    prometheus.Counter
	sweepDuration   prometheus.Histogram
	batchDuration   prometheus.Histogram
	invoicesTotal   prometheus.Counter
}

// NewMetricsService registers the engine's Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_decisions_total",
		Help: "Decisions by outcome (approved, rejected, auto_approved, failed)",
	}, []string{"outcome"})

	autoApprovals := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auto_approvals_total",
		Help: "Requests approved by policy without human action",
	})

	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "advisory_lock_wait_seconds",
		Help:    "Time spent waiting on the advisory lock",
		Buckets: prometheus.DefBuckets,
	})

	lockTimeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "advisory_lock_timeouts_total",
		Help: "Lock acquisitions that expired the wait window",
	})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "encumbrance_sweep_seconds",
		Help:    "Duration of full encumbrance recompute sweeps",
		Buckets: prometheus.DefBuckets,
	})

	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "invoice_batch_seconds",
		Help:    "Duration of invoice batch runs",
		Buckets: prometheus.DefBuckets,
	})

	invoicesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invoices_generated_total",
		Help: "Invoices generated by batch runs",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, decisions, autoApprovals,
		lockWait, lockTimeouts, sweepDuration, batchDuration, invoicesTotal, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		decisions:       decisions,
		autoApprovals:   autoApprovals,
		lockWait:        lockWait,
		lockTimeouts:    lockTimeouts,
		sweepDuration:   sweepDuration,
		batchDuration:   batchDuration,
		invoicesTotal:   invoicesTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveDecision counts a decision outcome.
func (m *MetricsService) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
	if outcome == "auto_approved" {
		m.autoApprovals.Inc()
	}
}

// ObserveLockWait records the time a decision spent waiting on the lock.
func (m *MetricsService) ObserveLockWait(duration time.Duration, timedOut bool) {
	if m == nil {
		return
	}
	m.lockWait.Observe(duration.Seconds())
	if timedOut {
		m.lockTimeouts.Inc()
	}
}

// ObserveSweep records an encumbrance sweep duration.
func (m *MetricsService) ObserveSweep(duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
}

// ObserveBatch records an invoice batch run.
func (m *MetricsService) ObserveBatch(duration time.Duration, invoices int) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(duration.Seconds())
	m.invoicesTotal.Add(float64(invoices))
}
