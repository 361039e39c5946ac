// Package metrics exposes matching measurements to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "carematch"

// Recorder records matching, scheduling and affinity metrics on one registry.
type Recorder struct {
	registry *prometheus.Registry

	matches           *prometheus.CounterVec
	cascadeRank       *prometheus.HistogramVec
	runDuration       prometheus.Histogram
	runOutcomes       *prometheus.CounterVec
	affinityCalls     *prometheus.CounterVec
	affinityDuration  prometheus.Histogram
	webhookDeliveries *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		matches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Allocation attempts by caregiver role and result.",
		}, []string{"role", "status"}),
		cascadeRank: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_rank",
			Help:      "Cascade position of the caregiver that took a booking; 0 is the bound caregiver.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		}, []string{"role"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "schedule_run_duration_seconds",
			Help:      "Wall time of a backlog scheduling run.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		}),
		runOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_outcomes_total",
			Help:      "Backlog entries processed by scheduling runs.",
		}, []string{"result"}),
		affinityCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "affinity_requests_total",
			Help:      "Calls to the affinity advisory service by outcome.",
		}, []string{"outcome"}),
		affinityDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "affinity_request_duration_seconds",
			Help:      "Latency of affinity advisory calls, including retries.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		webhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Booking event deliveries to subscriber endpoints by event type and status.",
		}, []string{"event", "status"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
	}
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveMatch counts one allocation attempt. rank is only recorded for
// successful bookings.
func (r *Recorder) ObserveMatch(role, status string, rank int) {
	if role == "" {
		role = "unknown"
	}
	r.matches.WithLabelValues(role, status).Inc()
	if status == "booked" {
		r.cascadeRank.WithLabelValues(role).Observe(float64(rank))
	}
}

func (r *Recorder) ObserveRun(elapsed time.Duration, booked, failed int) {
	r.runDuration.Observe(elapsed.Seconds())
	r.runOutcomes.WithLabelValues("booked").Add(float64(booked))
	r.runOutcomes.WithLabelValues("failed").Add(float64(failed))
}

// ObserveAffinity matches the affinity client's observer signature.
func (r *Recorder) ObserveAffinity(outcome string, elapsed time.Duration) {
	r.affinityCalls.WithLabelValues(outcome).Inc()
	r.affinityDuration.Observe(elapsed.Seconds())
}

// ObserveWebhook matches the webhook manager's observer signature.
func (r *Recorder) ObserveWebhook(eventType, status string) {
	r.webhookDeliveries.WithLabelValues(eventType, status).Inc()
}

// Middleware records request counts and latency by route template.
func (r *Recorder) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			r.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			r.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
}
