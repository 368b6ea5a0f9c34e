package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RequestFinished(OutcomeOK)
	c.RequestFinished(OutcomeOK)
	c.RequestFinished(OutcomeRejected)
	c.TaskAdmitted(3)
	c.TaskRejected()
	c.TaskSkipped()
	c.ObserveGeneration(250*time.Millisecond, true)
	c.ObserveGeneration(time.Second, false)
	c.ObserveRequest("POST", "/response", 200, 50*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.requestsTotal.WithLabelValues(OutcomeOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.requestsTotal.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.rejectionsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.skippedTotal))

	c.TaskDequeued(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(c.queueDepth))
}

func TestCollector_IsolatedRegistries(t *testing.T) {
	// Two collectors must be able to coexist, as they do across tests.
	a := NewCollector(prometheus.NewRegistry())
	b := NewCollector(prometheus.NewRegistry())
	require.NotNil(t, a)
	require.NotNil(t, b)

	a.TaskRejected()
	assert.Equal(t, float64(0), testutil.ToFloat64(b.rejectionsTotal))
}
