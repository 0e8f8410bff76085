package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { MustRegister(reg) })

	VerificationsTotal.WithLabelValues("active").Inc()
	IntegrityTripped.Set(1)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["license_verifications_total"])
	assert.True(t, names["license_server_integrity_tripped"])

	assert.Panics(t, func() { MustRegister(reg) })
}

func TestVerificationsByStatus(t *testing.T) {
	before := testutil.ToFloat64(VerificationsTotal.WithLabelValues("suspended"))
	VerificationsTotal.WithLabelValues("suspended").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(VerificationsTotal.WithLabelValues("suspended")))
}
