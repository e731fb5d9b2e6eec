package benchmark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	benchmarkspec "github.com/Sheefali07/PerfKitBenchmarker/benchmark_spec"
	"github.com/Sheefali07/PerfKitBenchmarker/provider"
	"github.com/Sheefali07/PerfKitBenchmarker/sample"
)

type noopBenchmark struct{ input map[string]any }

func (b *noopBenchmark) GetInfo() *Info { return &Info{Name: "noop", NumMachines: 1} }

func (b *noopBenchmark) CheckPrerequisites() error { return nil }

func (b *noopBenchmark) Prepare(*benchmarkspec.BenchmarkSpec) error { return nil }

func (b *noopBenchmark) Run(*benchmarkspec.BenchmarkSpec) ([]sample.Sample, error) { return nil, nil }

func (b *noopBenchmark) Cleanup(*benchmarkspec.BenchmarkSpec) error { return nil }

func TestRegistryRoundTrip(t *testing.T) {
	Register("noop", func(input map[string]any) (Benchmark, error) {
		return &noopBenchmark{input: input}, nil
	})

	assert.True(t, Known("noop"))
	assert.False(t, Known("no-such-benchmark"))
	assert.Contains(t, Names(), "noop")

	b, err := New("noop", map[string]any{"key": "value"})
	require.NoError(t, err)
	assert.Equal(t, "value", b.(*noopBenchmark).input["key"])

	_, err = New("no-such-benchmark", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown benchmark")
}

func TestValidateInfo(t *testing.T) {
	require.NoError(t, ValidateInfo(&Info{Name: "ok", NumMachines: 1}))

	for name, info := range map[string]*Info{
		"no name":        {NumMachines: 1},
		"zero machines":  {Name: "b"},
		"negative disks": {Name: "b", NumMachines: 1, ScratchDiskCount: -1},
	} {
		err := ValidateInfo(info)
		require.Error(t, err, name)
		assert.True(t, provider.IsConfigError(err), name)
	}
}
