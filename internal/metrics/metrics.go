package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transport metrics
	APITransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfeed_api_transactions_total",
			Help: "Total number of API call sequences completed",
		},
		[]string{"method", "outcome"},
	)

	RetryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventfeed_retry_attempts_total",
			Help: "Total number of retried transport attempts",
		},
	)

	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventfeed_request_duration_seconds",
			Help:    "Duration of API call sequences in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Credential metrics
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfeed_token_refreshes_total",
			Help: "Total number of access token refresh attempts",
		},
		[]string{"outcome"},
	)

	// Dispatch metrics
	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfeed_records_emitted_total",
			Help: "Total number of records published per topic",
		},
		[]string{"topic"},
	)

	SubscriberFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfeed_subscriber_failures_total",
			Help: "Total number of subscriber callbacks that failed",
		},
		[]string{"topic"},
	)

	// Correlation metrics
	CorrelationBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventfeed_correlation_buffer_size",
			Help: "Current number of partial records awaiting a match",
		},
	)

	CorrelationMatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventfeed_correlation_matches_total",
			Help: "Total number of partial record pairs joined",
		},
	)

	CorrelationEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfeed_correlation_evictions_total",
			Help: "Total number of partial records emitted unmatched",
		},
		[]string{"reason"},
	)

	// Poll loop metrics
	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfeed_poll_cycles_total",
			Help: "Total number of poll cycles by outcome",
		},
		[]string{"outcome"},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventfeed_poll_duration_seconds",
			Help:    "Duration of a full poll, dispatch and ack cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sink metrics
	SinkRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfeed_sink_records_total",
			Help: "Total number of records written by sinks",
		},
		[]string{"sink", "status"},
	)
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
