// Package metrics exposes Prometheus collectors for queue operations, the
// storage layer and the HTTP surface.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue operations
	messagesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_messages_published_total",
			Help: "Total number of messages published.",
		},
		[]string{"queue"},
	)
	messagesClaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_messages_claimed_total",
			Help: "Total number of message claims handed out.",
		},
		[]string{"queue"},
	)
	messagesAcked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_messages_acked_total",
			Help: "Total number of messages acknowledged and deleted.",
		},
		[]string{"queue"},
	)
	messagesNacked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_messages_nacked_total",
			Help: "Total number of messages returned to pending after a failed attempt.",
		},
		[]string{"queue"},
	)
	messagesExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_messages_exhausted_total",
			Help: "Total number of messages dropped after their final failed attempt.",
		},
		[]string{"queue"},
	)
	messagesReclaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_messages_reclaimed_total",
			Help: "Total number of leases returned to pending by visibility timeout.",
		},
		[]string{"queue"},
	)

	// Queue depth (set from stats scans)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mq_queue_depth",
			Help: "Current number of messages per queue by status.",
		},
		[]string{"queue", "status"},
	)

	// Storage
	storeReadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mq_store_read_duration_seconds",
			Help:    "Pebble point-read latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	storeCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mq_store_commit_duration_seconds",
			Help:    "Pebble batch commit latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	storeCommitBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mq_store_commit_bytes_total",
			Help: "Total bytes committed in Pebble batches.",
		},
	)

	// HTTP
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			messagesPublished,
			messagesClaimed,
			messagesAcked,
			messagesNacked,
			messagesExhausted,
			messagesReclaimed,
			queueDepth,

			storeReadDuration,
			storeCommitDuration,
			storeCommitBytes,

			httpRequests,
			httpDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route, code string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, code).Inc()
	httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// SetQueueDepth publishes point-in-time queue census gauges.
func SetQueueDepth(queue string, pending, claimed int) {
	queueDepth.WithLabelValues(queue, "pending").Set(float64(max0(pending)))
	queueDepth.WithLabelValues(queue, "claimed").Set(float64(max0(claimed)))
}

// QueueCollector satisfies the queue package's Metrics interface.
type QueueCollector struct{}

func (QueueCollector) IncPublished(queue string, n int) {
	messagesPublished.WithLabelValues(queue).Add(float64(n))
}
func (QueueCollector) IncClaimed(queue string, n int) {
	messagesClaimed.WithLabelValues(queue).Add(float64(n))
}
func (QueueCollector) IncAcked(queue string)     { messagesAcked.WithLabelValues(queue).Inc() }
func (QueueCollector) IncNacked(queue string)    { messagesNacked.WithLabelValues(queue).Inc() }
func (QueueCollector) IncExhausted(queue string) { messagesExhausted.WithLabelValues(queue).Inc() }
func (QueueCollector) IncReclaimed(queue string) { messagesReclaimed.WithLabelValues(queue).Inc() }

// StoreCollector satisfies the storage package's MetricsHook interface.
type StoreCollector struct{}

func (StoreCollector) ObserveRead(elapsed time.Duration, bytes int) {
	storeReadDuration.Observe(elapsed.Seconds())
}

func (StoreCollector) ObserveCommit(elapsed time.Duration, bytes int) {
	storeCommitDuration.Observe(elapsed.Seconds())
	storeCommitBytes.Add(float64(max0(bytes)))
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
