package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FramesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_frames_received_total",
			Help: "Total number of frames delivered by the broker (count)",
		},
		[]string{"topic"},
	)

	FrameSizeBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broker_frame_size_bytes",
			Help:    "Size of broker frames in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
		},
	)

	FrameDecodeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frame_decode_total",
			Help: "Frame decode outcomes (json, prefixed_json, opaque) (count)",
		},
		[]string{"result"},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_total",
			Help: "Events by pipeline outcome (forwarded, duplicate, filtered, non_chat, unparsed, error) (count)",
		},
		[]string{"status"},
	)

	FrameProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_frame_processing_duration_ms",
			Help:    "Time spent decoding, normalizing and deduplicating a frame in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100},
		},
		[]string{"status"},
	)

	DeduplicateMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_messages_total",
			Help: "Total number of messages checked by the deduplicator (count)",
		},
		[]string{"status"},
	)

	DedupWindowSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_window_size",
			Help: "Number of message ids currently held in the dedup window (count)",
		},
	)

	ForwardResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_results_total",
			Help: "Per-destination forward results after retries (count)",
		},
		[]string{"destination", "status"},
	)

	ForwardOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_outcomes_total",
			Help: "Aggregate forward outcomes per event (count)",
		},
		[]string{"status"},
	)

	ForwardAttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forward_attempt_duration_ms",
			Help:    "Duration of a single delivery attempt in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"destination", "status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"destination"},
	)

	ForwardsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forwards_in_flight",
			Help: "Number of events currently being forwarded (count)",
		},
	)

	BrokerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_connection_state",
			Help: "Broker connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting) (state code)",
		},
	)

	BrokerReconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_reconnect_attempts_total",
			Help: "Total number of broker reconnect attempts (count)",
		},
	)

	BrokerPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_publish_total",
			Help: "Broker publish results (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy"},
	)

	ReplyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reply_requests_total",
			Help: "Reply API requests forwarded to the vendor (count)",
		},
		[]string{"kind", "status"},
	)

	VendorRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vendor_request_duration_ms",
			Help:    "Duration of vendor API requests in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"operation", "status"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)
)

var (
	registerPipelineOnce sync.Once
	registerReplyOnce    sync.Once
	registerBreakerOnce  sync.Once
	registerFallbackOnce sync.Once
)

func RegisterPipelineMetrics() {
	registerPipelineOnce.Do(func() {
		prometheus.MustRegister(FramesReceivedTotal)
		prometheus.MustRegister(FrameSizeBytes)
		prometheus.MustRegister(FrameDecodeTotal)
		prometheus.MustRegister(EventsTotal)
		prometheus.MustRegister(FrameProcessingDuration)
		prometheus.MustRegister(DeduplicateMessagesTotal)
		prometheus.MustRegister(DedupWindowSize)
		prometheus.MustRegister(ForwardResultsTotal)
		prometheus.MustRegister(ForwardOutcomesTotal)
		prometheus.MustRegister(ForwardAttemptDuration)
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(ForwardsInFlight)
		prometheus.MustRegister(BrokerState)
		prometheus.MustRegister(BrokerReconnectAttemptsTotal)
		prometheus.MustRegister(BrokerPublishTotal)
	})
	registerFallbackUsageTotalOnce()
}

func RegisterReplyMetrics() {
	registerReplyOnce.Do(func() {
		prometheus.MustRegister(ReplyRequestsTotal)
		prometheus.MustRegister(VendorRequestDuration)
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func RegisterCircuitBreakerMetrics() {
	registerBreakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func registerFallbackUsageTotalOnce() {
	registerFallbackOnce.Do(func() {
		prometheus.MustRegister(FallbackUsageTotal)
	})
}

func ObserveFrameProcessing(duration time.Duration, status string) {
	FrameProcessingDuration.WithLabelValues(status).Observe(float64(duration.Microseconds()) / 1000)
}

func ObserveForwardAttempt(destination, status string, duration time.Duration) {
	ForwardAttemptDuration.WithLabelValues(destination, status).Observe(float64(duration.Milliseconds()))
}

func ObserveVendorRequest(operation, status string, duration time.Duration) {
	VendorRequestDuration.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}

func IncEvent(status string) {
	EventsTotal.WithLabelValues(status).Inc()
}

func SetDedupWindowSize(size int) {
	DedupWindowSize.Set(float64(size))
}

func SetBrokerState(code int) {
	BrokerState.Set(float64(code))
}
