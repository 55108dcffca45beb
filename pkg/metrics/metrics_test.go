package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opslane/feedbackpilot/pkg/models"
)

type fakeStatusProvider struct {
	services []BreakerServiceStatus
	usage    models.UsageSnapshot
}

func (f fakeStatusProvider) Status() ([]BreakerServiceStatus, models.UsageSnapshot) {
	return f.services, f.usage
}

func TestRefresh_SetsGaugesFromStatusProvider(t *testing.T) {
	m := New(fakeStatusProvider{
		services: []BreakerServiceStatus{{Service: "llm", State: "closed"}},
		usage:    models.UsageSnapshot{DailyTokensUsed: 42, ConcurrentTasks: 3},
	})

	m.Refresh()

	assert.Equal(t, float64(42), testutil.ToFloat64(m.DailyTokensUsed))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ConcurrentTasks))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CircuitState.WithLabelValues("llm", "closed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CircuitState.WithLabelValues("llm", "open")))
}

func TestObserveStage_IncrementsCounter(t *testing.T) {
	m := New(nil)

	m.ObserveStage(models.StageAnalyzeIntent, models.StageStatusCompleted)
	m.ObserveStage(models.StageAnalyzeIntent, models.StageStatusCompleted)
	m.ObserveStage(models.StageRunTests, models.StageStatusFailed)

	require.Equal(t, float64(2), testutil.ToFloat64(m.StageOutcomesTotal.WithLabelValues(string(models.StageAnalyzeIntent), string(models.StageStatusCompleted))))
	require.Equal(t, float64(1), testutil.ToFloat64(m.StageOutcomesTotal.WithLabelValues(string(models.StageRunTests), string(models.StageStatusFailed))))
}

func TestRefresh_NilStatusSourceIsNoop(t *testing.T) {
	m := New(nil)
	assert.NotPanics(t, m.Refresh)
}
