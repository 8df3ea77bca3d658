package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistered(t *testing.T) {
	SessionsCreated.Inc()
	CodeCollisions.Inc()
	ClaimOutcomes.WithLabelValues(OutcomeOK).Inc()
	StatusReads.WithLabelValues("pending").Inc()
	StoreErrors.WithLabelValues("get").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}

	for _, name := range []string{
		"pairing_sessions_created_total",
		"pairing_code_collisions_total",
		"pairing_claims_total",
		"pairing_status_reads_total",
		"pairing_store_errors_total",
	} {
		assert.True(t, names[name], "metric %s should be registered", name)
	}
}
