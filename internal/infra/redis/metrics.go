package redis

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vexscan",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis commands in seconds",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation"})

	operationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vexscan",
		Subsystem: "redis",
		Name:      "operation_errors_total",
		Help:      "Total number of failed Redis commands",
	}, []string{"operation"})

	// membershipLookups counts membership cache reads by result: hit, miss
	// or error (served from the database).
	membershipLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vexscan",
		Subsystem: "authz",
		Name:      "membership_cache_lookups_total",
		Help:      "Membership cache lookups by result",
	}, []string{"result"})
)

// timed starts a timer for operation; call the result with the outcome.
func timed(operation string) func(error) {
	start := time.Now()
	return func(err error) {
		operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		if err != nil {
			operationErrors.WithLabelValues(operation).Inc()
		}
	}
}

// RegisterPoolStats exposes the client's pool counters as gauges read at
// scrape time.
func RegisterPoolStats(reg prometheus.Registerer, client *Client) {
	f := promauto.With(reg)
	gauge := func(name, help string, read func() uint32) {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "vexscan",
			Subsystem: "redis",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read()) })
	}
	gauge("pool_total_connections", "Connections in the pool", func() uint32 { return client.client.PoolStats().TotalConns })
	gauge("pool_idle_connections", "Idle connections in the pool", func() uint32 { return client.client.PoolStats().IdleConns })
	gauge("pool_timeouts", "Waits for a pooled connection that timed out", func() uint32 { return client.client.PoolStats().Timeouts })
}
