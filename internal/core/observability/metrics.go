// Package observability owns the Prometheus collectors of the overlay
// pipeline and the helpers that update them.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	reprojectDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reproject_duration_seconds",
			Help:    "Time spent reprojecting a dataset document.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"outcome"},
	)

	aggregationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hexagg_failures_total",
			Help: "Region features skipped during hexagon aggregation.",
		},
		[]string{"reason"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescache_lookups_total",
			Help: "Resolution cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	populateSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rescache_populate_duration_seconds",
			Help:    "Duration of one aggregation pass for a bucket.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"bucket"},
	)

	rebuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlay_rebuilds_total",
			Help: "Rendered layer rebuilds after a settled zoom change.",
		},
		[]string{"bucket"},
	)

	polygons = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "overlay_polygons",
			Help: "Rendered polygons across sessions by visibility state.",
		},
		[]string{"state"},
	)

	sessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "overlay_sessions",
			Help: "Live map sessions.",
		},
	)

	eventPublish = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_events_total",
			Help: "Render events handed to the publisher by outcome.",
		},
		[]string{"outcome"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, reprojectDurationSeconds,
		aggregationFailures, cacheLookups, populateSeconds, rebuilds,
		polygons, sessions, eventPublish,
	}
}

// Init registers the collectors with reg. Registering twice on the same
// registry is a no-op.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveReprojection(err error, durationSeconds float64) {
	reprojectDurationSeconds.WithLabelValues(outcome(err)).Observe(durationSeconds)
}

func IncAggregationFailure(reason string) {
	aggregationFailures.WithLabelValues(reason).Inc()
}

// ObserveCacheLookup records a hit or a miss of the resolution cache.
func ObserveCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

func ObservePopulate(bucket int, durationSeconds float64) {
	populateSeconds.WithLabelValues(strconv.Itoa(bucket)).Observe(durationSeconds)
}

func IncRebuild(bucket int) {
	rebuilds.WithLabelValues(strconv.Itoa(bucket)).Inc()
}

// AddPolygons adjusts the active/pruned gauges by the given deltas.
func AddPolygons(active, pruned int) {
	polygons.WithLabelValues("active").Add(float64(active))
	polygons.WithLabelValues("pruned").Add(float64(pruned))
}

func SetSessions(n int) {
	sessions.Set(float64(n))
}

func IncEventPublish(outcome string) {
	eventPublish.WithLabelValues(outcome).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
