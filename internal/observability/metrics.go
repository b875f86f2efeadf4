package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for CDPLedger.
type Metrics struct {
	// --- Command engine ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	IntentsStaged    *prometheus.CounterVec
	JournalSequence  prometheus.Gauge

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter

	// --- Collaborators ---
	CollaboratorDuration *prometheus.HistogramVec
	CollaboratorErrors   *prometheus.CounterVec

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec

	// --- Outbox relay ---
	RelayPublished prometheus.Counter
	RelayBatchSize prometheus.Histogram
	RelayErrors    *prometheus.CounterVec
	RelayRetry     prometheus.Counter
	OutboxPending  prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec

	// --- HTTP API ---
	HTTPRequests    *prometheus.CounterVec
	HTTPRateLimited prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	applyBuckets := []float64{
		0.00005, 0.0001, 0.00025, 0.0005, 0.001,
		0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
	}

	return &Metrics{
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_commands_applied_total",
			Help: "Commands committed by the engine",
		}, []string{"command_type"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_commands_rejected_total",
			Help: "Commands rejected (duplicate, authorization, validation, solvency)",
		}, []string{"command_type", "reason"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cdp_command_apply_duration_seconds",
			Help:    "Time from dedup check to commit, including oracle round trips",
			Buckets: applyBuckets,
		}, []string{"command_type"}),

		IntentsStaged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_intents_staged_total",
			Help: "Collaborator intents written to the outbox",
		}, []string{"kind"}),

		JournalSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "cdp_journal_sequence",
			Help: "Last committed journal sequence",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "cdp_dedup_lru_size",
			Help: "Keys held in the in-memory dedup cache",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "cdp_dedup_tier2_errors_total",
			Help: "Failed journal lookups during dedup",
		}),

		CollaboratorDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cdp_collaborator_request_duration_seconds",
			Help:    "Synchronous collaborator query latency",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"collaborator"}),

		CollaboratorErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_collaborator_errors_total",
			Help: "Synchronous collaborator query failures",
		}, []string{"collaborator"}),

		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_ingest_messages_total",
			Help: "Command messages consumed, by outcome",
		}, []string{"command_type", "result"}),

		RelayPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "cdp_relay_intents_published_total",
			Help: "Intents published from the outbox",
		}),

		RelayBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cdp_relay_batch_size",
			Help:    "Intents per relay flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		RelayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_relay_errors_total",
			Help: "Outbox relay failures",
		}, []string{"stage"}),

		RelayRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "cdp_relay_retry_total",
			Help: "Outbox relay retry attempts",
		}),

		OutboxPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "cdp_outbox_pending",
			Help: "Undispatched intents seen by the last relay poll",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_query_requests_total",
			Help: "Query API requests",
		}, []string{"method"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cdp_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"method"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_query_errors_total",
			Help: "Query API errors",
		}, []string{"method", "code"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_http_requests_total",
			Help: "HTTP API requests by route and status code",
		}, []string{"route", "status"}),

		HTTPRateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "cdp_http_rate_limited_total",
			Help: "HTTP requests rejected by the rate limiter",
		}),
	}
}
