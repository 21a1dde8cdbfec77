// Package metrics provides Prometheus instrumentation for the escrow service.
package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scheduler run outcomes.
const (
	RunCompleted = "completed"
	RunSkipped   = "skipped"
	RunFailed    = "failed"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	OrdersCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escrow_orders_created_total",
		Help: "Total orders placed into escrow.",
	})

	// ReleasesTotal counts credited releases by ledger transaction type.
	ReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_releases_total",
			Help: "Total escrow releases by transaction type.",
		},
		[]string{"type"},
	)

	RefundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escrow_refunds_total",
		Help: "Total escrow refunds.",
	})

	DisputesOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escrow_disputes_opened_total",
		Help: "Total disputes opened by buyers.",
	})

	// StaleAbortsTotal counts transitions that lost a race on the order status.
	StaleAbortsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escrow_stale_aborts_total",
		Help: "Total escrow transitions aborted because the order status changed concurrently.",
	})

	// AutoReleaseFailuresTotal counts orders a release pass skipped because of an error other than a lost race.
	AutoReleaseFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escrow_auto_release_failures_total",
		Help: "Total orders the auto-release pass failed to settle.",
	})

	SchedulerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_scheduler_runs_total",
			Help: "Total auto-release passes by result.",
		},
		[]string{"result"},
	)

	// DBAcquiredConns tracks connections currently checked out of the pool.
	DBAcquiredConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "db_acquired_connections",
		Help: "Number of connections currently acquired from the pool.",
	})
	DBIdleConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "db_idle_connections",
		Help: "Number of idle connections in the pool.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OrdersCreatedTotal,
		ReleasesTotal,
		RefundsTotal,
		DisputesOpenedTotal,
		StaleAbortsTotal,
		AutoReleaseFailuresTotal,
		SchedulerRunsTotal,
		DBAcquiredConns,
		DBIdleConns,
		GoroutineCount,
	)
}

// StartPoolStatsCollector samples pgxpool stats and the goroutine count into
// gauges until ctx is done. Call in a goroutine.
func StartPoolStatsCollector(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()
			DBAcquiredConns.Set(float64(stat.AcquiredConns()))
			DBIdleConns.Set(float64(stat.IdleConns()))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath() // route pattern, keeps label cardinality bounded
		if path == "" {
			path = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))
		c.Next()
		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
