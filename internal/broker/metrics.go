package broker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	invocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arion_broker_invocation_duration_seconds",
			Help:    "Duration of capability invocations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"integration", "capability", "outcome"},
	)

	invocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arion_broker_invocations_total",
			Help: "Total capability invocations by backend and outcome",
		},
		[]string{"integration", "backend", "outcome"},
	)

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arion_broker_retries_total",
		Help: "Total execution retry attempts",
	})

	approvalWaits = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arion_broker_approval_wait_seconds",
		Help:    "Time spent waiting on interactive approval",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
	})

	denialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arion_broker_denials_total",
			Help: "Total policy and permission denials by error code",
		},
		[]string{"code"},
	)
)

// recordInvocation records metrics for one completed invocation.
func recordInvocation(integrationID, capabilityName, backendKind string, outcome Outcome, duration time.Duration, attempts int, errCode Code) {
	invocationDuration.WithLabelValues(integrationID, capabilityName, string(outcome)).Observe(duration.Seconds())

	kind := backendKind
	if kind == "" {
		kind = "none"
	}
	invocationsTotal.WithLabelValues(integrationID, kind, string(outcome)).Inc()

	if attempts > 1 {
		retriesTotal.Add(float64(attempts - 1))
	}

	if outcome == OutcomePolicyDenied && errCode != "" {
		denialsTotal.WithLabelValues(string(errCode)).Inc()
	}
}
