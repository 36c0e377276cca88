package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// Cannot use t.Parallel() - shared global metrics

func TestJobLifecycle(t *testing.T) {
	running := testutil.ToFloat64(jobsRunning.WithLabelValues("backup"))
	total := testutil.ToFloat64(jobsTotal.WithLabelValues("backup", "manual", "succeeded"))
	bytes := testutil.ToFloat64(artifactBytes.WithLabelValues("backup"))

	JobStarted("backup")
	assert.Equal(t, running+1, testutil.ToFloat64(jobsRunning.WithLabelValues("backup")))

	JobFinished("backup", "manual", "succeeded", 3*time.Second, 2048)
	assert.Equal(t, running, testutil.ToFloat64(jobsRunning.WithLabelValues("backup")))
	assert.Equal(t, total+1, testutil.ToFloat64(jobsTotal.WithLabelValues("backup", "manual", "succeeded")))
	assert.Equal(t, bytes+2048, testutil.ToFloat64(artifactBytes.WithLabelValues("backup")))
}

func TestCounters(t *testing.T) {
	retries := testutil.ToFloat64(retriesTotal)
	RecordRetry()
	assert.Equal(t, retries+1, testutil.ToFloat64(retriesTotal))

	skipped := testutil.ToFloat64(scheduleDispatches.WithLabelValues("skipped"))
	RecordDispatch("skipped")
	assert.Equal(t, skipped+1, testutil.ToFloat64(scheduleDispatches.WithLabelValues("skipped")))
}
