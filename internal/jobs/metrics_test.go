package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("overdue_sweep").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("overdue_sweep").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("overdue_sweep", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("overdue_sweep", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("overdue_sweep")))
}

func TestAddAffectedIgnoresZero(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddAffected("debt_sync", "debt", 0)
	m.AddAffected("debt_sync", "debt", 3)
	require.Equal(t, 3.0, testutil.ToFloat64(m.affected.WithLabelValues("debt_sync", "debt")))
}

func TestNilTrackerPassesError(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("x").End(boom), boom)
}
