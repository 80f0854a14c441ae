package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetQueueDepth(3)
	m.WriteDone("ok")
	m.WriteDone("ok")
	m.TransferDone("committed")

	require.Equal(t, float64(3), testutil.ToFloat64(m.QueueDepth))
	require.Equal(t, float64(2), testutil.ToFloat64(m.QueuedWrites.WithLabelValues("ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Transfers.WithLabelValues("committed")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.SetQueueDepth(1)
		m.WriteDone("ok")
		m.TransferDone("noop")
	})
}
