package benchmark

import (
	"fmt"
	"sort"
	"sync"

	benchmarkspec "github.com/Sheefali07/PerfKitBenchmarker/benchmark_spec"
	"github.com/Sheefali07/PerfKitBenchmarker/provider"
	"github.com/Sheefali07/PerfKitBenchmarker/sample"
)

// Info describes what a benchmark needs before any resource is allocated.
type Info struct {
	Name             string
	Description      string
	NumMachines      int
	ScratchDiskCount int
}

// Benchmark is the contract every benchmark module implements. The runner
// calls the hooks in strict order (Prepare, Run, Cleanup) and passes the
// spec as the sole resource handle.
type Benchmark interface {
	GetInfo() *Info

	// Fails fast with a config error when the provider or account cannot
	// support this benchmark. Called before any resource is touched.
	CheckPrerequisites() error

	// Installs software and uploads data onto the spec's VMs. May set
	// spec.AlwaysCallCleanup to force Cleanup even when Prepare fails
	// partway.
	Prepare(spec *benchmarkspec.BenchmarkSpec) error

	Run(spec *benchmarkspec.BenchmarkSpec) ([]sample.Sample, error)

	Cleanup(spec *benchmarkspec.BenchmarkSpec) error
}

// ValidateInfo rejects benchmark metadata that the runner cannot build a
// resource plan from. Such benchmarks are skipped, not retried.
func ValidateInfo(info *Info) error {
	if info.Name == "" {
		return provider.NewConfigError("benchmark info is missing a name")
	}
	if info.NumMachines < 1 {
		return provider.NewConfigError("benchmark %s does not declare how many machines it needs", info.Name)
	}
	if info.ScratchDiskCount < 0 {
		return provider.NewConfigError("benchmark %s declares a negative scratch disk count", info.Name)
	}
	return nil
}

type Factory func(input map[string]any) (Benchmark, error)

var (
	registryMu sync.RWMutex
	benchmarks = map[string]Factory{}
)

// All benchmarks register themselves at module load time so the CLI can
// select them by name.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	benchmarks[name] = f
}

func New(name string, input map[string]any) (Benchmark, error) {
	registryMu.RLock()
	f, ok := benchmarks[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown benchmark: %s", name)
	}
	return f(input)
}

func Known(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := benchmarks[name]
	return ok
}

func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(benchmarks))
	for name := range benchmarks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
