package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	webhookEventCounter   *prometheus.CounterVec
	lookupTierCounter     *prometheus.CounterVec
	gatewayRetryCounter   *prometheus.CounterVec
	idempotencyCounter    *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
	stalePendingGauge     prometheus.Gauge
	notificationCounter   *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		webhookEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Payment callback outcomes",
		}, []string{"outcome"})

		lookupTierCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciliation_lookup_total",
			Help: "Which lookup tier resolved (or failed to resolve) a callback",
		}, []string{"tier"})

		gatewayRetryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Outbound gateway retry attempts",
		}, []string{"operation"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		stalePendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transactions_stale_pending",
			Help: "Pending transactions older than the stale threshold",
		})

		notificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Fire-and-forget notification dispatch outcomes",
		}, []string{"channel", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			webhookEventCounter,
			lookupTierCounter,
			gatewayRetryCounter,
			idempotencyCounter,
			workerRunCounter,
			stalePendingGauge,
			notificationCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementWebhookEvent(outcome string) {
	if webhookEventCounter == nil {
		return
	}
	webhookEventCounter.WithLabelValues(outcome).Inc()
}

func IncrementLookupTier(tier string) {
	if lookupTierCounter == nil {
		return
	}
	lookupTierCounter.WithLabelValues(tier).Inc()
}

func IncrementGatewayRetry(operation string) {
	if gatewayRetryCounter == nil {
		return
	}
	gatewayRetryCounter.WithLabelValues(operation).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func SetStalePendingCount(count int) {
	if stalePendingGauge == nil {
		return
	}
	stalePendingGauge.Set(float64(count))
}

func IncrementNotification(channel, result string) {
	if notificationCounter == nil {
		return
	}
	notificationCounter.WithLabelValues(channel, result).Inc()
}
