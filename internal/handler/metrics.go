package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/custodyledger/internal/verify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	custodyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	custodyRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "custody_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	custodyLedgerRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custody_ledger_records",
		Help: "Complete records in the ledger, genesis included.",
	})

	custodyLedgerBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custody_ledger_bytes",
		Help: "Size of the ledger file in bytes.",
	})

	custodyVerifyRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_verify_runs_total",
		Help: "Total verification runs by resulting status.",
	}, []string{"status"})

	custodyLedgerValid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custody_ledger_valid",
		Help: "1 if the last verification run reported VALID, 0 otherwise.",
	})

	custodyViolations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custody_policy_violations",
		Help: "Custody policy violations found by the last verification run.",
	})

	custodyTrailingBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custody_ledger_trailing_bytes",
		Help: "Bytes of an incomplete trailing record seen by the last verification run.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		custodyRequestsTotal.WithLabelValues(method, path, status).Inc()
		custodyRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordVerify records the outcome of a verification run.
func RecordVerify(rep *verify.Report) {
	custodyVerifyRunsTotal.WithLabelValues(string(rep.Status)).Inc()
	if rep.Valid() {
		custodyLedgerValid.Set(1)
	} else {
		custodyLedgerValid.Set(0)
	}
	custodyViolations.Set(float64(len(rep.Violations)))
	custodyTrailingBytes.Set(float64(rep.TrailingBytes))
}

// SetLedgerSize records the current record count and file size.
func SetLedgerSize(records int, bytes int64) {
	custodyLedgerRecords.Set(float64(records))
	custodyLedgerBytes.Set(float64(bytes))
}
