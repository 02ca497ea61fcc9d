package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountmaintain_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accountmaintain_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	remindersEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountmaintain_reminders_evaluated_total",
			Help: "Accounts found due during reminder evaluation",
		},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountmaintain_deliveries_total",
			Help: "Notification delivery attempts by channel and status",
		},
		[]string{"channel", "status"},
	)

	duplicateSendsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountmaintain_duplicate_sends_skipped_total",
			Help: "Channel sends skipped because the send token was already delivered",
		},
	)

	jobQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "accountmaintain_job_queue_depth",
			Help: "Jobs currently buffered in the job queue",
		},
	)

	jobsProcessing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "accountmaintain_jobs_processing",
			Help: "Jobs currently executing on the worker pool",
		},
	)

	pushClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "accountmaintain_push_clients",
			Help: "Currently connected in-app push clients",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accountmaintain_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDueAccounts records how many accounts one evaluation found due
func RecordDueAccounts(n int) {
	remindersEvaluated.Add(float64(n))
}

// RecordDelivery records one delivery attempt outcome
func RecordDelivery(channel, status string) {
	deliveriesTotal.WithLabelValues(channel, status).Inc()
}

// RecordDuplicateSendSkipped records a dispatch skipped by the send guard
func RecordDuplicateSendSkipped() {
	duplicateSendsSkipped.Inc()
}

// SetJobQueueDepth sets the current buffered job count
func SetJobQueueDepth(n int) {
	jobQueueDepth.Set(float64(n))
}

// SetJobsProcessing sets the current executing job count
func SetJobsProcessing(n int64) {
	jobsProcessing.Set(float64(n))
}

// SetPushClients sets the connected push client count
func SetPushClients(n int) {
	pushClients.Set(float64(n))
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
