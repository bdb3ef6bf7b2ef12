package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics describing the collector itself
var (
	collectorScrapeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kusage_collector_scrape_duration_seconds",
			Help:    "Duration of metrics source scrapes",
			Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0}, // 100ms to 10s
		},
		[]string{"collector"},
	)

	collectorScrapeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kusage_collector_scrape_errors_total",
			Help: "Total number of metrics source scrape errors",
		},
		[]string{"collector"},
	)

	samplesAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kusage_samples_accepted_total",
			Help: "Samples folded into an aggregation window",
		},
		[]string{"entity"},
	)

	samplesDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kusage_samples_ignored_total",
			Help: "Samples ignored because their timestamp was missing or already seen",
		},
		[]string{"entity"},
	)

	volumeNodesPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kusage_volume_nodes_pending",
			Help: "Nodes whose volume stats have not been collected in the current window",
		},
	)

	cacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kusage_cache_entries",
			Help: "Entities currently aggregated in the open window",
		},
		[]string{"cache"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kusage_events_published_total",
			Help: "Events handed to the publisher",
		},
		[]string{"kind", "status"},
	)

	publishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kusage_publish_duration_seconds",
			Help:    "Time spent draining all caches into events",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120},
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kusage_http_requests_total",
			Help: "Total number of HTTP requests served by the operational server",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kusage_http_request_duration_seconds",
			Help:    "Duration of HTTP requests served by the operational server",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	lastPublishTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kusage_last_publish_timestamp_seconds",
			Help: "Unix time of the last completed publish",
		},
	)
)

// RecordCollectorScrape records metrics source scrape metrics
func RecordCollectorScrape(collector string, duration time.Duration, hasError bool) {
	collectorScrapeDuration.With(prometheus.Labels{"collector": collector}).Observe(duration.Seconds())

	if hasError {
		collectorScrapeErrors.With(prometheus.Labels{"collector": collector}).Inc()
	}
}

// RecordSample records whether a sample was accepted into a window
func RecordSample(entity string, accepted bool) {
	if accepted {
		samplesAccepted.With(prometheus.Labels{"entity": entity}).Inc()
		return
	}
	samplesDuplicate.With(prometheus.Labels{"entity": entity}).Inc()
}

// SetVolumeNodesPending sets the number of nodes still awaiting volume stats
func SetVolumeNodesPending(n int) {
	volumeNodesPending.Set(float64(n))
}

// SetCacheEntries sets the size of one aggregation cache
func SetCacheEntries(cache string, n int) {
	cacheEntries.With(prometheus.Labels{"cache": cache}).Set(float64(n))
}

// RecordEventPublished records the outcome of a single publish call
func RecordEventPublished(kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	eventsPublished.With(prometheus.Labels{"kind": kind, "status": status}).Inc()
}

// RecordPublish records a completed publish cycle
func RecordPublish(now time.Time, duration time.Duration) {
	publishDuration.Observe(duration.Seconds())
	lastPublishTimestamp.Set(float64(now.Unix()))
}

// RecordHTTPRequest records metrics for one HTTP request
func RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	httpRequestsTotal.With(prometheus.Labels{
		"method":      method,
		"route":       route,
		"status_code": strconv.Itoa(statusCode),
	}).Inc()
	httpRequestDuration.With(prometheus.Labels{"method": method, "route": route}).Observe(duration.Seconds())
}
