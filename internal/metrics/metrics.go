package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

const namespace = "hydro_verifier"

var (
	readingsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Total number of telemetry readings verified.",
		},
	)

	readingsApproved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_approved",
			Help:      "Readings whose trust score reached the auto-approve threshold.",
		},
	)

	readingsFlagged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_flagged",
			Help:      "Readings routed to manual review.",
		},
	)

	readingsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected",
			Help:      "Readings rejected, including replayed and out-of-window readings.",
		},
	)

	anomaliesDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected",
			Help:      "Readings the isolation forest classified as anomalous.",
		},
	)

	guardRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_rejections_total",
			Help:      "Readings rejected before scoring, partitioned by reason.",
		},
		[]string{"reason"},
	)

	ledgerSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_submissions_total",
			Help:      "Ledger commit outcomes, partitioned by status.",
		},
		[]string{"status"},
	)

	ledgerRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_retries_total",
			Help:      "Ledger submissions rebuilt after a transaction expired.",
		},
	)

	ingestMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "MQTT telemetry messages, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	verificationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_seconds",
			Help:      "Verification latency in seconds, excluding the ledger commit.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)
)

// Register attaches hydro-verifier collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		readingsTotal,
		readingsApproved,
		readingsFlagged,
		readingsRejected,
		anomaliesDetected,
		guardRejections,
		ledgerSubmissions,
		ledgerRetries,
		ingestMessages,
		verificationDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveVerification records one completed verification and its decision.
func ObserveVerification(duration time.Duration, decision models.Decision) {
	readingsTotal.Inc()
	switch decision {
	case models.DecisionApproved:
		readingsApproved.Inc()
	case models.DecisionFlagged:
		readingsFlagged.Inc()
	default:
		readingsRejected.Inc()
	}
	if duration < 0 {
		duration = 0
	}
	verificationDurationSeconds.Observe(duration.Seconds())
}

// ObserveGuardRejection records a replayed or out-of-window reading.
func ObserveGuardRejection(reason string) {
	guardRejections.WithLabelValues(reason).Inc()
}

// ObserveAnomaly records an isolation forest hit.
func ObserveAnomaly() {
	anomaliesDetected.Inc()
}

// ObserveLedgerOutcome records the final status of one ledger commit.
func ObserveLedgerOutcome(status models.LedgerStatus) {
	ledgerSubmissions.WithLabelValues(string(status)).Inc()
}

// ObserveLedgerRetry records one rebuild after an expired transaction.
func ObserveLedgerRetry() {
	ledgerRetries.Inc()
}

// Ingest outcomes.
const (
	IngestVerified = "verified"
	IngestInvalid  = "invalid"
	IngestDropped  = "dropped"
	IngestFailed   = "failed"
)

// ObserveIngest records the outcome of one MQTT message.
func ObserveIngest(outcome string) {
	ingestMessages.WithLabelValues(outcome).Inc()
}
