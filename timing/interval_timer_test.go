package timing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeasureRecordsEvenOnFailure(t *testing.T) {
	timer := &IntervalTimer{}

	err := timer.Measure("Benchmark Run", func() error {
		return errors.New("workload crashed")
	})
	require.Error(t, err)
	require.Len(t, timer.Intervals, 1)
	assert.Equal(t, "Benchmark Run", timer.Intervals[0].Name)
	assert.False(t, timer.Intervals[0].Stop.Before(timer.Intervals[0].Start))
}

func TestGenerateSamples(t *testing.T) {
	timer := &IntervalTimer{}
	require.NoError(t, timer.Measure("Resource Provisioning", func() error { return nil }))
	require.NoError(t, timer.Measure("Benchmark Run", func() error { return nil }))

	runtimes := timer.GenerateSamples(true, false)
	require.Len(t, runtimes, 2)
	assert.Equal(t, "Resource Provisioning Runtime", runtimes[0].Metric)
	assert.Equal(t, "seconds", runtimes[0].Unit)

	both := timer.GenerateSamples(true, true)
	assert.Len(t, both, 6)
	assert.Equal(t, "Resource Provisioning Start Timestamp", both[1].Metric)
	assert.Equal(t, "Resource Provisioning Stop Timestamp", both[2].Metric)

	assert.Empty(t, timer.GenerateSamples(false, false))
}
