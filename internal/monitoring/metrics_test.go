//nolint:testpackage // requires internal access to unexported types and functions
package monitoring

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector(t *testing.T) {
	t.Run("disabled collector still runs the stage", func(t *testing.T) {
		collector := NewMetricsCollector(false)
		assert.False(t, collector.IsEnabled())

		calls := 0
		err := collector.RecordStage("load", func() (int64, error) {
			calls++
			return 10, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, collector.GetMetrics())
	})

	t.Run("records stages in order", func(t *testing.T) {
		collector := NewMetricsCollector(true)

		require.NoError(t, collector.RecordStage("load", func() (int64, error) {
			time.Sleep(5 * time.Millisecond)
			return 100, nil
		}))
		require.NoError(t, collector.RecordStage("clean", func() (int64, error) {
			return 90, nil
		}))

		metrics := collector.GetMetrics()
		require.Len(t, metrics, 2)
		assert.Equal(t, "load", metrics[0].Stage)
		assert.Equal(t, int64(100), metrics[0].RowsProcessed)
		assert.GreaterOrEqual(t, metrics[0].Duration, 5*time.Millisecond)
		assert.GreaterOrEqual(t, metrics[0].MemoryUsed, int64(0))
		assert.Equal(t, "clean", metrics[1].Stage)
	})

	t.Run("failed stage is recorded and error returned", func(t *testing.T) {
		collector := NewMetricsCollector(true)
		boom := errors.New("boom")

		err := collector.RecordStage("train", func() (int64, error) { return 0, boom })
		assert.ErrorIs(t, err, boom)

		metrics := collector.GetMetrics()
		require.Len(t, metrics, 1)
		assert.True(t, metrics[0].Failed)
		assert.Equal(t, 1, collector.GetSummary().FailedStages)
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		collector := NewMetricsCollector(true)
		require.NoError(t, collector.RecordStage("load", func() (int64, error) { return 1, nil }))

		metrics := collector.GetMetrics()
		metrics[0].Stage = "changed"
		assert.Equal(t, "load", collector.GetMetrics()[0].Stage)
	})

	t.Run("clear and toggle", func(t *testing.T) {
		collector := NewMetricsCollector(true)
		require.NoError(t, collector.RecordStage("load", func() (int64, error) { return 1, nil }))
		collector.Clear()
		assert.Empty(t, collector.GetMetrics())

		collector.SetEnabled(false)
		require.NoError(t, collector.RecordStage("load", func() (int64, error) { return 1, nil }))
		assert.Empty(t, collector.GetMetrics())
	})
}

func TestMetricsSummary(t *testing.T) {
	collector := NewMetricsCollector(true)
	assert.Equal(t, MetricsSummary{}, collector.GetSummary())

	for _, rows := range []int64{100, 80, 20} {
		require.NoError(t, collector.RecordStage("stage", func() (int64, error) { return rows, nil }))
	}

	summary := collector.GetSummary()
	assert.Equal(t, 3, summary.TotalStages)
	assert.Equal(t, int64(200), summary.TotalRows)
	assert.Equal(t, summary.TotalDuration/3, summary.AverageDuration)
	assert.Zero(t, summary.FailedStages)
}

func TestMetricsCollectorConcurrent(t *testing.T) {
	collector := NewMetricsCollector(true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = collector.RecordStage("profile", func() (int64, error) { return 1, nil })
		}()
	}
	wg.Wait()

	assert.Len(t, collector.GetMetrics(), 8)
	assert.Equal(t, int64(8), collector.GetSummary().TotalRows)
}
