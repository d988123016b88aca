package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordMessageRouted("direct")
		m.RecordCheckpointSaved("agent")
		m.RecordCheckpointFailed("agent", "save")
		m.RecordDirectiveOutcome("EXE", "ok")
		m.SetMeetingsActive(3)
		m.Handler()
	})
}

func TestEnabledMetricsRecordCounters(t *testing.T) {
	m := New(true)
	require.NotNil(t, m)
	m.RecordMessageRouted("direct")
	m.RecordMessageRouted("direct")
	m.RecordCheckpointSaved("agent")

	require.NotNil(t, m.Handler())
}

func TestDisabledMetricsReturnsNil(t *testing.T) {
	require.Nil(t, New(false))
}
