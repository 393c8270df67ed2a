package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics;
// components treat a nil *Metrics as "metrics disabled".
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec
	solanaRPCRetries       *prometheus.CounterVec

	// Submission Metrics
	blockhashAttemptsTotal *prometheus.CounterVec
	broadcastAttemptsTotal *prometheus.CounterVec
	submissionAttempts     *prometheus.HistogramVec
	submissionOutcomes     *prometheus.CounterVec
	lamportsSentTotal      prometheus.Counter
	batchDuration          *prometheus.HistogramVec
	batchSize              prometheus.Histogram

	// NFT Metrics
	metadataFetchesTotal *prometheus.CounterVec
	metadataCacheHits    *prometheus.CounterVec

	// Workflow Metrics
	activityDuration *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		// Submission Metrics
		blockhashAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sned_blockhash_attempts_total",
				Help: "Total number of recent blockhash acquisition attempts",
			},
			[]string{"status"},
		),
		broadcastAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sned_broadcast_attempts_total",
				Help: "Total number of broadcast and confirm attempts",
			},
			[]string{"status"},
		),
		submissionAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sned_submission_attempts",
				Help:    "Number of broadcasts needed per submission",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
			},
			[]string{"status"},
		),
		submissionOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sned_submission_outcomes_total",
				Help: "Total number of submission outcomes by status",
			},
			[]string{"status"},
		),
		lamportsSentTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sned_lamports_sent_total",
				Help: "Total lamports confirmed as sent",
			},
		),
		batchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sned_batch_duration_seconds",
				Help:    "Duration of batch runs in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		batchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sned_batch_size",
				Help:    "Number of coalesced requests per batch",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
		),

		// NFT Metrics
		metadataFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nft_metadata_fetches_total",
				Help: "Total number of NFT metadata fetches by source and status",
			},
			[]string{"source", "status"},
		),
		metadataCacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nft_metadata_cache_lookups_total",
				Help: "Total number of metadata cache lookups by result",
			},
			[]string{"result"},
		),

		// Workflow Metrics
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "activity_duration_seconds",
				Help:    "Duration of workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"activity", "status"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Submission metric helpers

// RecordBlockhashAttempt records one recent blockhash acquisition attempt.
func (m *Metrics) RecordBlockhashAttempt(err error) {
	m.blockhashAttemptsTotal.WithLabelValues(errStatus(err)).Inc()
}

// RecordBroadcastAttempt records one broadcast-and-confirm attempt.
func (m *Metrics) RecordBroadcastAttempt(err error) {
	m.broadcastAttemptsTotal.WithLabelValues(errStatus(err)).Inc()
}

// RecordSubmission records the final outcome of one submission.
func (m *Metrics) RecordSubmission(succeeded bool, attempts int, lamports uint64) {
	status := "failed"
	if succeeded {
		status = "success"
		m.lamportsSentTotal.Add(float64(lamports))
	}
	m.submissionOutcomes.WithLabelValues(status).Inc()
	m.submissionAttempts.WithLabelValues(status).Observe(float64(attempts))
}

// RecordBatch records a finished batch run.
func (m *Metrics) RecordBatch(size int, duration float64, err error) {
	m.batchSize.Observe(float64(size))
	m.batchDuration.WithLabelValues(errStatus(err)).Observe(duration)
}

// NFT metric helpers

// RecordMetadataFetch records an on-chain or off-chain metadata fetch.
func (m *Metrics) RecordMetadataFetch(source string, err error) {
	m.metadataFetchesTotal.WithLabelValues(source, errStatus(err)).Inc()
}

// RecordMetadataCacheLookup records a metadata cache hit or miss.
func (m *Metrics) RecordMetadataCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.metadataCacheHits.WithLabelValues(result).Inc()
}

// Workflow metric helpers

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64, err error) {
	m.activityDuration.WithLabelValues(activity, errStatus(err)).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, errStatus(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func errStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
