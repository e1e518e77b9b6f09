package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("alleraid", "api", reg)

	m.AlertTransitions.WithLabelValues("responding", "success").Inc()
	m.NotificationsDispatched.WithLabelValues("sms", "failed").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertTransitions.WithLabelValues("responding", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsDispatched.WithLabelValues("sms", "failed")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewNopIsolated(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNop()
		NewNop()
	})
}
