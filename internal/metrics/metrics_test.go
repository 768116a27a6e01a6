package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordResponse(t *testing.T) {
	m := NewNop()

	m.RecordResponse(OutcomeAccepted)
	m.RecordResponse(OutcomeAccepted)
	m.RecordResponse(OutcomeUnknown)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResponsesTotal.WithLabelValues(OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResponsesTotal.WithLabelValues(OutcomeUnknown)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ResponsesTotal.WithLabelValues(OutcomeDeclined)))
}

func TestMetrics_RegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DrawsTotal.Inc()
	m.InvitationsTotal.Add(3)
	m.StaleDrawsTotal.Inc()
	m.RecordResponse(OutcomeDeclined)
	m.RecordNotification(ResultSent)
	m.ActiveEngines.Set(2)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"lottery_draws_total",
		"lottery_invitations_total",
		"lottery_stale_draws_total",
		"lottery_responses_total",
		"lottery_notifications_total",
		"lottery_active_engines",
	}, names)
}

func TestMetrics_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	assert.Panics(t, func() { New(reg) })
}
