package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pairing"

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Pairing sessions successfully created.",
	})

	CodeCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "code_collisions_total",
		Help:      "Generated codes rejected by the store because they were already in use.",
	})

	ClaimOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claims_total",
		Help:      "Claim attempts by outcome.",
	}, []string{"outcome"})

	StatusReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_reads_total",
		Help:      "Status queries by derived status.",
	}, []string{"status"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Session store failures by operation.",
	}, []string{"operation"})
)

// Claim outcome label values.
const (
	OutcomeOK             = "ok"
	OutcomeAlreadyClaimed = "already_claimed"
	OutcomeExpired        = "expired"
	OutcomeNotFound       = "not_found"
	OutcomeError          = "error"
)
