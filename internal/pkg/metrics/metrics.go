// Package metrics defines the Prometheus collectors of the file store.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

// Upload outcomes.
const (
	UploadCreated      = "created"
	UploadDeduplicated = "deduplicated"
	UploadFailed       = "failed"
)

// Retire outcomes.
const (
	RetireReleased = "released"
	RetireRetired  = "retired"
	RetireFailed   = "failed"
)

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dedup_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Store metrics.
var (
	// UploadsTotal counts ingests by outcome.
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_uploads_total",
			Help: "Uploads by outcome",
		},
		[]string{"outcome"},
	)

	// RetiresTotal counts deletes by outcome. "retired" means the physical copy was reclaimed.
	RetiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_retires_total",
			Help: "Deletes by outcome",
		},
		[]string{"outcome"},
	)

	// BytesWrittenTotal counts bytes written to the blob store (new content only).
	BytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_bytes_written_total",
			Help: "Bytes of new content written to storage",
		},
	)

	// BusyWaitsTotal counts waits on a content record that was being retired.
	BusyWaitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_busy_waits_total",
			Help: "Backoff waits on content being retired",
		},
	)
)

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			UploadsTotal,
			RetiresTotal,
			BytesWrittenTotal,
			BusyWaitsTotal,
		)
		for _, o := range []string{UploadCreated, UploadDeduplicated, UploadFailed} {
			UploadsTotal.WithLabelValues(o)
		}
		for _, o := range []string{RetireReleased, RetireRetired, RetireFailed} {
			RetiresTotal.WithLabelValues(o)
		}
	})
}

// GinMiddleware records request count and latency per route template.
// Unmatched routes share one label to keep cardinality bounded.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
