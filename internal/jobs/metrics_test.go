package jobmetrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsStatus(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	assert.NoError(t, metrics.Track("dailyclose:noshow").End(nil))
	failure := errors.New("boom")
	assert.ErrorIs(t, metrics.Track("dailyclose:noshow").End(failure), failure)
	skipped := fmt.Errorf("bad payload: %w", asynq.SkipRetry)
	assert.ErrorIs(t, metrics.Track("dailyclose:noshow").End(skipped), asynq.SkipRetry)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("dailyclose:noshow", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("dailyclose:noshow", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("dailyclose:noshow", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues("dailyclose:noshow")))
}

func TestNilMetricsTrackerIsNoop(t *testing.T) {
	var metrics *Metrics
	err := errors.New("x")
	assert.Equal(t, err, metrics.Track("job").End(err))
}
