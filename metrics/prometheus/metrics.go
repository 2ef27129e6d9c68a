// Package prometheus provides Prometheus metrics for the TTS gateway.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ttsgw"

var (
	// synthesisDuration is a histogram of end-to-end synthesis duration.
	synthesisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Histogram of end-to-end synthesis duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	// synthesisTotal is a counter of synthesis requests by outcome.
	synthesisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_total",
			Help:      "Total number of synthesis requests",
		},
		[]string{"provider", "status"}, // status: success, error
	)

	// synthesisCharactersTotal is a counter of characters synthesized.
	synthesisCharactersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_characters_total",
			Help:      "Total characters of text synthesized",
		},
		[]string{"provider"},
	)

	// httpRequestDuration is a histogram of HTTP request duration by route.
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets, // .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
		},
		[]string{"route", "method"},
	)

	// httpRequestsTotal is a counter of HTTP requests by route and status.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	// cacheOperationsTotal is a counter of audio cache lookups by outcome.
	cacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total audio cache lookups",
		},
		[]string{"result"}, // result: hit, miss
	)

	// streamsActive is a gauge of currently open synthesis streams.
	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently open synthesis streams",
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		synthesisDuration,
		synthesisTotal,
		synthesisCharactersTotal,
		httpRequestDuration,
		httpRequestsTotal,
		cacheOperationsTotal,
		streamsActive,
	}
)

// RecordSynthesis records one synthesis request outcome.
func RecordSynthesis(provider, status string, durationSeconds float64) {
	synthesisDuration.WithLabelValues(provider).Observe(durationSeconds)
	synthesisTotal.WithLabelValues(provider, status).Inc()
}

// RecordSynthesisCharacters records the text length of a synthesis request.
func RecordSynthesisCharacters(provider string, characters int) {
	if characters > 0 {
		synthesisCharactersTotal.WithLabelValues(provider).Add(float64(characters))
	}
}

// RecordHTTPRequest records one HTTP request.
func RecordHTTPRequest(route, method, status string, durationSeconds float64) {
	httpRequestDuration.WithLabelValues(route, method).Observe(durationSeconds)
	httpRequestsTotal.WithLabelValues(route, method, status).Inc()
}

// RecordCacheHit records an audio cache hit.
func RecordCacheHit() {
	cacheOperationsTotal.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records an audio cache miss.
func RecordCacheMiss() {
	cacheOperationsTotal.WithLabelValues("miss").Inc()
}

// RecordStreamStart records an opened synthesis stream.
func RecordStreamStart() {
	streamsActive.Inc()
}

// RecordStreamEnd records a closed synthesis stream.
func RecordStreamEnd() {
	streamsActive.Dec()
}
