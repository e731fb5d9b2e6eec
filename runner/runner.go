package runner

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/alitto/pond"
	"github.com/schollz/progressbar/v3"

	"github.com/Sheefali07/PerfKitBenchmarker/benchmark"
	benchmarkspec "github.com/Sheefali07/PerfKitBenchmarker/benchmark_spec"
	"github.com/Sheefali07/PerfKitBenchmarker/config"
	"github.com/Sheefali07/PerfKitBenchmarker/provider"
	"github.com/Sheefali07/PerfKitBenchmarker/sample"
	systemmonitor "github.com/Sheefali07/PerfKitBenchmarker/system_monitor"
	"github.com/Sheefali07/PerfKitBenchmarker/timing"
)

// Stage selects which lifecycle transitions one process invocation
// actually executes. The other stages of the same logical run happen in
// separate invocations sharing a run_uri.
type Stage string

const (
	StageAll     Stage = "all"
	StagePrepare Stage = "prepare"
	StageRun     Stage = "run"
	StageCleanup Stage = "cleanup"
)

func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageAll, StagePrepare, StageRun, StageCleanup:
		return Stage(s), nil
	default:
		return "", provider.NewConfigError("unknown run stage %q", s)
	}
}

func (s Stage) Includes(other Stage) bool {
	return s == StageAll || s == other
}

// BeforeRunHook runs just ahead of a benchmark's Run hook.
type BeforeRunHook func(b benchmark.Benchmark, spec *benchmarkspec.BenchmarkSpec)

// Runner drives one or many benchmarks through their lifecycle stages.
type Runner struct {
	Stage       Stage
	RunURI      string
	Options     *benchmarkspec.Options
	Collector   *sample.Collector
	// How many benchmarks run concurrently. <= 1 means sequential.
	Parallelism int
	// Per-benchmark topology overrides, keyed by benchmark name.
	Topologies     map[string]*config.Topology
	BeforeRunHooks []BeforeRunHook
	// Emit "End to End" and per-phase runtime samples.
	MeasureRuntimes bool
	// Sample CPU and memory usage on every VM while the benchmark runs.
	MonitorVMs bool
}

// RunBenchmarks runs every benchmark through the selected stages, at
// bounded concurrency. Each benchmark is an independent unit of work;
// failures are isolated and aggregated into the returned error.
func (r *Runner) RunBenchmarks(benchmarks []benchmark.Benchmark) error {
	total := len(benchmarks)
	bar := progressbar.Default(int64(total), "benchmarks")

	errCh := make(chan error, total)
	run := func(i int, b benchmark.Benchmark) {
		if err := r.RunBenchmark(b, i+1, total); err != nil {
			errCh <- fmt.Errorf("benchmark %s: %w", b.GetInfo().Name, err)
		}
		bar.Add(1)
	}

	if r.Parallelism > 1 {
		pool := pond.New(r.Parallelism, 0, pond.MinWorkers(r.Parallelism))
		for i, b := range benchmarks {
			pool.Submit(func() {
				run(i, b)
			})
		}
		pool.StopAndWait()
	} else {
		for i, b := range benchmarks {
			run(i, b)
		}
	}
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RunBenchmark drives a single benchmark through the selected stages.
// Teardown takes priority over quiet failure: cleanup is attempted on the
// way out even when Run fails, and the failure is still returned.
func (r *Runner) RunBenchmark(b benchmark.Benchmark, sequence, total int) error {
	info := b.GetInfo()
	if err := benchmark.ValidateInfo(info); err != nil {
		slog.Error("benchmark metadata is invalid, skipping",
			slog.String("benchmark", info.Name), slog.String("error", err.Error()))
		return err
	}

	logger := slog.With(
		slog.String("benchmark", info.Name),
		slog.String("sequence", fmt.Sprintf("%d/%d", sequence, total)),
	)

	// Prerequisite failures abort before any resource is touched.
	if err := b.CheckPrerequisites(); err != nil {
		logger.Error("prerequisite check failed", slog.String("error", err.Error()))
		return fmt.Errorf("prerequisite check: %w", err)
	}

	endToEnd := &timing.IntervalTimer{}
	detailed := &timing.IntervalTimer{}
	var spec *benchmarkspec.BenchmarkSpec
	prepared := false
	cleanedUp := false

	runErr := endToEnd.Measure("End to End", func() error {
		if r.Stage.Includes(StagePrepare) {
			var err error
			spec, err = r.buildSpec(info)
			if err != nil {
				return err
			}
			// Persist before anything gets created so teardown is possible
			// in a separate invocation if provisioning crashes.
			if err := spec.Save(); err != nil {
				return err
			}
			if err := r.doPrepare(b, spec, detailed, logger); err != nil {
				return err
			}
			prepared = true
		} else {
			var err error
			spec, err = benchmarkspec.Load(r.RunURI, info.Name)
			if err != nil {
				return err
			}
			prepared = true
		}

		if r.Stage.Includes(StageRun) {
			if err := r.doRun(b, spec, detailed, logger); err != nil {
				return err
			}
		}

		if r.Stage.Includes(StageCleanup) {
			r.doCleanup(b, spec, detailed, logger)
			cleanedUp = true
		}
		return nil
	})

	// Guaranteed-exit path: teardown or re-persist happens regardless of
	// what failed above.
	if spec != nil {
		if r.Stage.Includes(StageCleanup) {
			if !cleanedUp && (prepared || spec.AlwaysCallCleanup) {
				r.doCleanup(b, spec, detailed, logger)
			} else if !cleanedUp {
				// Construction finished but provisioning did not; release
				// whatever partially exists.
				report := spec.Delete()
				logger.Info("resource teardown finished", slog.String("result", report.String()))
			}
		} else if err := spec.Save(); err != nil {
			logger.Error("failed to persist spec for later stages", slog.String("error", err.Error()))
		}
	}

	if runErr != nil {
		logger.Error("benchmark failed", slog.String("error", runErr.Error()))
		return runErr
	}

	if r.MeasureRuntimes && r.Collector != nil {
		if r.Stage == StageAll {
			r.Collector.AddSamples(endToEnd.GenerateSamples(true, false), info.Name, r.RunURI)
		}
		r.Collector.AddSamples(detailed.GenerateSamples(true, false), info.Name, r.RunURI)
	}
	return nil
}

func (r *Runner) buildSpec(info *benchmark.Info) (*benchmarkspec.BenchmarkSpec, error) {
	var spec *benchmarkspec.BenchmarkSpec
	var err error
	if topo, ok := r.Topologies[info.Name]; ok {
		spec, err = benchmarkspec.NewFromTopology(info.Name, r.RunURI, topo, r.Options)
	} else {
		spec, err = benchmarkspec.New(info.Name, r.RunURI, info.NumMachines, info.ScratchDiskCount, r.Options)
	}
	if err != nil {
		return nil, err
	}
	if err := checkSpecSatisfies(spec, info); err != nil {
		return nil, err
	}
	return spec, nil
}

// checkSpecSatisfies rejects a resource plan the benchmark cannot run on,
// before anything is provisioned. Topology files in particular can declare
// fewer machines or disks than the benchmark indexes into.
func checkSpecSatisfies(spec *benchmarkspec.BenchmarkSpec, info *benchmark.Info) error {
	if len(spec.VMs) < info.NumMachines {
		return provider.NewConfigError(
			"benchmark %s needs %d machines but the resource plan provides %d",
			info.Name, info.NumMachines, len(spec.VMs))
	}
	if info.ScratchDiskCount > 0 {
		for _, vm := range spec.VMs {
			if len(vm.Spec().DiskSpecs) < info.ScratchDiskCount {
				return provider.NewConfigError(
					"benchmark %s needs %d scratch disks but VM %s declares %d",
					info.Name, info.ScratchDiskCount, vm.Spec().Name, len(vm.Spec().DiskSpecs))
			}
		}
	}
	return nil
}

func (r *Runner) doPrepare(b benchmark.Benchmark, spec *benchmarkspec.BenchmarkSpec, timer *timing.IntervalTimer, logger *slog.Logger) error {
	logger.Info("preparing benchmark")
	err := timer.Measure("Resource Provisioning", spec.Prepare)
	if err != nil {
		return fmt.Errorf("provisioning resources: %w", err)
	}
	err = timer.Measure("Benchmark Prepare", func() error {
		return b.Prepare(spec)
	})
	if err != nil {
		return fmt.Errorf("benchmark prepare hook: %w", err)
	}
	return nil
}

func (r *Runner) doRun(b benchmark.Benchmark, spec *benchmarkspec.BenchmarkSpec, timer *timing.IntervalTimer, logger *slog.Logger) error {
	logger.Info("running benchmark")
	for _, hook := range r.BeforeRunHooks {
		hook(b, spec)
	}

	if r.MonitorVMs {
		var monitors []*systemmonitor.Monitor
		for _, vm := range spec.VMs {
			m := systemmonitor.New(vm)
			m.Start()
			monitors = append(monitors, m)
		}
		defer func() {
			for _, m := range monitors {
				m.Stop()
				if r.Collector != nil {
					r.Collector.AddSamples(m.Samples(), spec.BenchmarkName, r.RunURI)
				}
			}
		}()
	}

	var samples []sample.Sample
	err := timer.Measure("Benchmark Run", func() error {
		var err error
		samples, err = b.Run(spec)
		return err
	})
	if err != nil {
		return fmt.Errorf("benchmark run hook: %w", err)
	}
	if r.Collector != nil {
		r.Collector.AddSamples(samples, spec.BenchmarkName, r.RunURI)
	}
	return nil
}

// doCleanup never fails the benchmark: hook errors are logged and resource
// teardown still runs.
func (r *Runner) doCleanup(b benchmark.Benchmark, spec *benchmarkspec.BenchmarkSpec, timer *timing.IntervalTimer, logger *slog.Logger) {
	logger.Info("cleaning up benchmark")
	err := timer.Measure("Benchmark Cleanup", func() error {
		return b.Cleanup(spec)
	})
	if err != nil {
		logger.Error("benchmark cleanup hook failed, continuing teardown", slog.String("error", err.Error()))
	}

	var report *benchmarkspec.TeardownReport
	timer.Measure("Resource Teardown", func() error {
		report = spec.Delete()
		return nil
	})
	logger.Info("resource teardown finished", slog.String("result", report.String()))
}
