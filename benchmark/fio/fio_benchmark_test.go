package fio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sheefali07/PerfKitBenchmarker/benchmark"
)

func TestFactoryDecodesInput(t *testing.T) {
	b, err := benchmark.New("fio", map[string]any{
		"IODepth":    16,
		"FileSizeGB": 2,
	})
	require.NoError(t, err)

	input := b.(*bmark).input
	assert.Equal(t, 16, input.IODepth)
	assert.Equal(t, 2, input.FileSizeGB)
}

func TestFactoryAppliesDefaults(t *testing.T) {
	b, err := benchmark.New("fio", map[string]any{})
	require.NoError(t, err)

	input := b.(*bmark).input
	assert.Equal(t, 1, input.IODepth)
	assert.Equal(t, 10, input.FileSizeGB)
}

func TestFactoryRejectsMistypedInput(t *testing.T) {
	_, err := benchmark.New("fio", map[string]any{
		"IODepth": []int{16},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fio input")
}

func TestFioOutputUnmarshal(t *testing.T) {
	raw := `{
  "jobs": [
    {
      "jobname": "sequential_write",
      "read": {"bw_bytes": 0, "iops": 0, "lat_ns": {"mean": 0}},
      "write": {"bw_bytes": 104857600, "iops": 200.5, "lat_ns": {"mean": 5000000}}
    },
    {
      "jobname": "random_read",
      "read": {"bw_bytes": 52428800, "iops": 100.25, "lat_ns": {"mean": 10000000}},
      "write": {"bw_bytes": 0, "iops": 0, "lat_ns": {"mean": 0}}
    }
  ]
}`
	parsed := fioOutput{}
	require.NoError(t, json.Unmarshal([]byte(raw), &parsed))
	require.Len(t, parsed.Jobs, 2)

	assert.Equal(t, "sequential_write", parsed.Jobs[0].JobName)
	assert.Equal(t, int64(104857600), parsed.Jobs[0].Write.BWBytes)
	assert.InDelta(t, 200.5, parsed.Jobs[0].Write.IOPS, 0.001)
	assert.InDelta(t, 5e6, parsed.Jobs[0].Write.LatNS.Mean, 0.001)

	assert.Equal(t, "random_read", parsed.Jobs[1].JobName)
	assert.Equal(t, int64(52428800), parsed.Jobs[1].Read.BWBytes)
}
