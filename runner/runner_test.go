package runner_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sheefali07/PerfKitBenchmarker/benchmark"
	benchmarkspec "github.com/Sheefali07/PerfKitBenchmarker/benchmark_spec"
	"github.com/Sheefali07/PerfKitBenchmarker/config"
	"github.com/Sheefali07/PerfKitBenchmarker/provider"
	"github.com/Sheefali07/PerfKitBenchmarker/runner"
	"github.com/Sheefali07/PerfKitBenchmarker/sample"
	"github.com/Sheefali07/PerfKitBenchmarker/util"
)

func init() {
	provider.Register(provider.GCP, &provider.Registration{
		VMs: map[provider.OSFamily]provider.VMFactory{
			provider.Debian: func(spec *provider.VMSpec) (provider.VirtualMachine, error) {
				return &fakeVM{spec: spec}, nil
			},
		},
		Network: func(project, zone string) provider.Network {
			return &fakeNetwork{zone: zone}
		},
		Firewall: func(project string) provider.Firewall {
			return &fakeFirewall{}
		},
	})
}

type fakeVM struct {
	spec *provider.VMSpec
}

func (v *fakeVM) Create() error                              { return nil }
func (v *fakeVM) Delete() error                              { return nil }
func (v *fakeVM) Exists() (bool, error)                      { return true, nil }
func (v *fakeVM) WaitForBootCompletion() error               { return nil }
func (v *fakeVM) Startup() error                             { return nil }
func (v *fakeVM) AddMetadata(map[string]string) error        { return nil }
func (v *fakeVM) SetupLocalDisks() error                     { return nil }
func (v *fakeVM) CreateScratchDisk(*provider.DiskSpec) error { return nil }
func (v *fakeVM) DeleteScratchDisks() error                  { return nil }
func (v *fakeVM) RunCommand(string) ([]byte, error)          { return nil, nil }
func (v *fakeVM) Spec() *provider.VMSpec                     { return v.spec }
func (v *fakeVM) IPAddress() string                          { return "198.51.100.1" }
func (v *fakeVM) RemoteAccessPorts() []int                   { return nil }
func (v *fakeVM) MaxLocalDisks() int                         { return 0 }

type fakeNetwork struct{ zone string }

func (n *fakeNetwork) Create() error         { return nil }
func (n *fakeNetwork) Delete() error         { return nil }
func (n *fakeNetwork) Exists() (bool, error) { return true, nil }
func (n *fakeNetwork) Zone() string          { return n.zone }

type fakeFirewall struct{}

func (f *fakeFirewall) AllowPort(provider.VirtualMachine, int) error { return nil }
func (f *fakeFirewall) DisallowAllPorts() error                      { return nil }

// fakeBenchmark records the order its hooks fire in.
type fakeBenchmark struct {
	mu    sync.Mutex
	info  *benchmark.Info
	calls []string

	prereqErr  error
	prepareErr error
	runErr     error
	cleanupErr error
	// Prepare sets AlwaysCallCleanup on the spec before failing.
	forceCleanup bool
	samples      []sample.Sample
}

func newFakeBenchmark() *fakeBenchmark {
	return &fakeBenchmark{
		info: &benchmark.Info{Name: "fake", NumMachines: 1},
		samples: []sample.Sample{
			sample.New("Throughput", 42, "Mbits/sec", nil),
		},
	}
}

func (b *fakeBenchmark) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *fakeBenchmark) GetInfo() *benchmark.Info { return b.info }

func (b *fakeBenchmark) CheckPrerequisites() error {
	b.record("prerequisites")
	return b.prereqErr
}

func (b *fakeBenchmark) Prepare(spec *benchmarkspec.BenchmarkSpec) error {
	b.record("prepare")
	if b.forceCleanup {
		spec.AlwaysCallCleanup = true
	}
	return b.prepareErr
}

func (b *fakeBenchmark) Run(spec *benchmarkspec.BenchmarkSpec) ([]sample.Sample, error) {
	b.record("run")
	return b.samples, b.runErr
}

func (b *fakeBenchmark) Cleanup(spec *benchmarkspec.BenchmarkSpec) error {
	b.record("cleanup")
	return b.cleanupErr
}

func newTestRunner(t *testing.T, stage runner.Stage) *runner.Runner {
	t.Helper()
	t.Setenv("TMPDIR", t.TempDir())
	uri := util.NewRunURI()
	_, err := util.EnsureTempDir(uri)
	require.NoError(t, err)
	return &runner.Runner{
		Stage:  stage,
		RunURI: uri,
		Options: &benchmarkspec.Options{
			Cloud:    provider.GCP,
			OSFamily: provider.Debian,
		},
		Collector: sample.NewCollector(),
	}
}

func TestAllStagesRunInOrder(t *testing.T) {
	r := newTestRunner(t, runner.StageAll)
	b := newFakeBenchmark()

	require.NoError(t, r.RunBenchmarks([]benchmark.Benchmark{b}))
	assert.Equal(t, []string{"prerequisites", "prepare", "run", "cleanup"}, b.calls)

	samples := r.Collector.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, "Throughput", samples[0].Metric)
	assert.Equal(t, "fake", samples[0].Metadata["benchmark"])
	assert.Equal(t, r.RunURI, samples[0].Metadata["run_uri"])
}

func TestRuntimesAreMeasuredWhenEnabled(t *testing.T) {
	r := newTestRunner(t, runner.StageAll)
	r.MeasureRuntimes = true
	b := newFakeBenchmark()

	require.NoError(t, r.RunBenchmarks([]benchmark.Benchmark{b}))

	metrics := map[string]bool{}
	for _, s := range r.Collector.Samples() {
		metrics[s.Metric] = true
	}
	assert.True(t, metrics["End to End Runtime"])
	assert.True(t, metrics["Resource Provisioning Runtime"])
	assert.True(t, metrics["Benchmark Run Runtime"])
	assert.True(t, metrics["Resource Teardown Runtime"])
}

func TestCleanupStillRunsWhenRunFails(t *testing.T) {
	r := newTestRunner(t, runner.StageAll)
	b := newFakeBenchmark()
	b.runErr = errors.New("workload crashed")

	err := r.RunBenchmarks([]benchmark.Benchmark{b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workload crashed")
	assert.Contains(t, b.calls, "cleanup")
}

func TestPrepareHookFailureSkipsTheCleanupHook(t *testing.T) {
	r := newTestRunner(t, runner.StageAll)
	b := newFakeBenchmark()
	b.prepareErr = errors.New("install failed")

	// Nothing was installed, so only resource teardown runs on the way out.
	err := r.RunBenchmarks([]benchmark.Benchmark{b})
	require.Error(t, err)
	assert.Equal(t, []string{"prerequisites", "prepare"}, b.calls)
}

func TestAlwaysCallCleanupForcesTheCleanupHook(t *testing.T) {
	r := newTestRunner(t, runner.StageAll)
	b := newFakeBenchmark()
	b.prepareErr = errors.New("install failed halfway")
	b.forceCleanup = true

	err := r.RunBenchmarks([]benchmark.Benchmark{b})
	require.Error(t, err)
	assert.Equal(t, []string{"prerequisites", "prepare", "cleanup"}, b.calls)
}

func TestInvalidMetadataSkipsTheBenchmark(t *testing.T) {
	r := newTestRunner(t, runner.StageAll)
	b := newFakeBenchmark()
	b.info.NumMachines = 0

	err := r.RunBenchmarks([]benchmark.Benchmark{b})
	require.Error(t, err)
	assert.True(t, provider.IsConfigError(err))
	assert.Empty(t, b.calls)
}

func TestUndersizedTopologyIsRejectedBeforeProvisioning(t *testing.T) {
	r := newTestRunner(t, runner.StageAll)
	b := newFakeBenchmark()
	b.info.NumMachines = 2

	topo, err := config.Parse([]byte(`
cloud: GCP
groups:
  servers:
    vm_type: n2-standard-2
    image: debian-12
    zone: us-central1-a
    count: 1
`))
	require.NoError(t, err)
	r.Topologies = map[string]*config.Topology{"fake": topo}

	err = r.RunBenchmarks([]benchmark.Benchmark{b})
	require.Error(t, err)
	assert.True(t, provider.IsConfigError(err))
	assert.Contains(t, err.Error(), "needs 2 machines")
	assert.Equal(t, []string{"prerequisites"}, b.calls)
}

func TestTopologyWithoutScratchDisksIsRejected(t *testing.T) {
	r := newTestRunner(t, runner.StageAll)
	b := newFakeBenchmark()
	b.info.ScratchDiskCount = 1

	topo, err := config.Parse([]byte(`
cloud: GCP
groups:
  workers:
    vm_type: n2-standard-2
    image: debian-12
    zone: us-central1-a
    count: 1
`))
	require.NoError(t, err)
	r.Topologies = map[string]*config.Topology{"fake": topo}

	err = r.RunBenchmarks([]benchmark.Benchmark{b})
	require.Error(t, err)
	assert.True(t, provider.IsConfigError(err))
	assert.Contains(t, err.Error(), "scratch disks")
	assert.Equal(t, []string{"prerequisites"}, b.calls)
}

func TestPrerequisiteFailureAbortsBeforeProvisioning(t *testing.T) {
	r := newTestRunner(t, runner.StageAll)
	b := newFakeBenchmark()
	b.prereqErr = errors.New("quota missing")

	err := r.RunBenchmarks([]benchmark.Benchmark{b})
	require.Error(t, err)
	assert.Equal(t, []string{"prerequisites"}, b.calls)
	assert.False(t, benchmarkspec.HasSnapshot(r.RunURI, "fake"))
}

func TestStagesResumeAcrossInvocations(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())
	uri := util.NewRunURI()
	_, err := util.EnsureTempDir(uri)
	require.NoError(t, err)
	opts := &benchmarkspec.Options{Cloud: provider.GCP, OSFamily: provider.Debian}

	prepare := &runner.Runner{Stage: runner.StagePrepare, RunURI: uri, Options: opts}
	b := newFakeBenchmark()
	require.NoError(t, prepare.RunBenchmarks([]benchmark.Benchmark{b}))
	assert.Equal(t, []string{"prerequisites", "prepare"}, b.calls)
	require.True(t, benchmarkspec.HasSnapshot(uri, "fake"))

	run := &runner.Runner{Stage: runner.StageRun, RunURI: uri, Options: opts, Collector: sample.NewCollector()}
	b = newFakeBenchmark()
	require.NoError(t, run.RunBenchmarks([]benchmark.Benchmark{b}))
	assert.Equal(t, []string{"prerequisites", "run"}, b.calls)
	assert.Len(t, run.Collector.Samples(), 1)

	cleanup := &runner.Runner{Stage: runner.StageCleanup, RunURI: uri, Options: opts}
	b = newFakeBenchmark()
	require.NoError(t, cleanup.RunBenchmarks([]benchmark.Benchmark{b}))
	assert.Equal(t, []string{"prerequisites", "cleanup"}, b.calls)
}

func TestBeforeRunHooksFireAheadOfRun(t *testing.T) {
	r := newTestRunner(t, runner.StageAll)
	b := newFakeBenchmark()
	r.BeforeRunHooks = append(r.BeforeRunHooks, func(hb benchmark.Benchmark, spec *benchmarkspec.BenchmarkSpec) {
		b.record("hook")
		assert.Equal(t, r.RunURI, spec.RunURI)
	})

	require.NoError(t, r.RunBenchmarks([]benchmark.Benchmark{b}))
	assert.Equal(t, []string{"prerequisites", "prepare", "hook", "run", "cleanup"}, b.calls)
}

func TestParseStage(t *testing.T) {
	for _, valid := range []string{"all", "prepare", "run", "cleanup"} {
		stage, err := runner.ParseStage(valid)
		require.NoError(t, err)
		assert.Equal(t, runner.Stage(valid), stage)
	}
	_, err := runner.ParseStage("provision")
	require.Error(t, err)
	assert.True(t, provider.IsConfigError(err))

	assert.True(t, runner.StageAll.Includes(runner.StageCleanup))
	assert.False(t, runner.StageRun.Includes(runner.StageCleanup))
}
