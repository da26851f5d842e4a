package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestConnectionLifecycleCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()

	require.Equal(t, float64(2), counterValue(t, c.connectionsTotal))
	require.Equal(t, float64(1), gaugeValue(t, c.connectionsActive))
}

func TestRejectionCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.SenderRejected()
	c.RateLimitRejected()
	c.RateLimitRejected()

	require.Equal(t, float64(1), counterValue(t, c.senderRejections))
	require.Equal(t, float64(2), counterValue(t, c.rateLimitRejections))
}

func TestStorageSnapshotHandlesNilAges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.StorageSnapshot(StorageGauges{UsedMemoryBytes: 1024, MaxAgeMs: 60000})
	require.Equal(t, float64(-1), gaugeValue(t, c.storageOldestAgeMs))
	require.Equal(t, float64(-1), gaugeValue(t, c.storageNewestAgeMs))

	oldest := int64(500)
	c.StorageSnapshot(StorageGauges{OldestAgeMs: &oldest})
	require.Equal(t, float64(500), gaugeValue(t, c.storageOldestAgeMs))
}

func TestSpamProcessingTimeObserves(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)
	require.NotPanics(t, func() {
		c.SpamProcessingTime(120 * time.Millisecond)
	})
}

func TestNoopImplementsCollector(t *testing.T) {
	var c Collector = Noop{}
	require.NotPanics(t, func() {
		c.ConnectionOpened()
		c.StorageSnapshot(StorageGauges{})
	})
}
