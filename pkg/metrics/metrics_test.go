package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studylab/studysync/pkg/models"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RequestFinished(models.KindDataset, "get", true)
		m.PollTick(models.KindSignal, false)
		m.StatusTransition(models.KindDataset, models.StatusProcessed)
		m.PollLoopStarted()
		m.PollLoopStopped()
	})
}

func TestNilRegistererDisablesMetrics(t *testing.T) {
	assert.Nil(t, New(nil))
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.RequestFinished(models.KindDataset, "get", true)
	m.RequestFinished(models.KindDataset, "get", true)
	m.RequestFinished(models.KindDataset, "get", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("datasets", "get", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("datasets", "get", "failure")))
}

func TestLoopGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PollLoopStarted()
	m.PollLoopStarted()
	m.PollLoopStopped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollLoopsActive))
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotNil(t, New(reg))
	assert.Panics(t, func() { New(reg) })
}
