package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path"
	"strings"

	"github.com/Sheefali07/PerfKitBenchmarker/benchmark"
	_ "github.com/Sheefali07/PerfKitBenchmarker/benchmark/fio"
	_ "github.com/Sheefali07/PerfKitBenchmarker/benchmark/iperf"
	benchmarkspec "github.com/Sheefali07/PerfKitBenchmarker/benchmark_spec"
	"github.com/Sheefali07/PerfKitBenchmarker/config"
	"github.com/Sheefali07/PerfKitBenchmarker/provider"
	_ "github.com/Sheefali07/PerfKitBenchmarker/providers/aws"
	"github.com/Sheefali07/PerfKitBenchmarker/runner"
	"github.com/Sheefali07/PerfKitBenchmarker/sample"
	staticvm "github.com/Sheefali07/PerfKitBenchmarker/static_vm"
	"github.com/Sheefali07/PerfKitBenchmarker/util"
)

// configPairs collects repeated "benchmark=path" flags.
type configPairs map[string]string

func (cp configPairs) String() string {
	return "benchmark=path"
}

func (cp configPairs) Set(value string) error {
	name, file, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected benchmark=path, got %q", value)
	}
	cp[name] = file
	return nil
}

// inputPairs collects repeated `benchmark={"key": value}` flags carrying
// per-benchmark input as a JSON object.
type inputPairs map[string]map[string]any

func (ip inputPairs) String() string {
	return "benchmark=json"
}

func (ip inputPairs) Set(value string) error {
	name, raw, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected benchmark=json, got %q", value)
	}
	input := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return fmt.Errorf("input for benchmark %q is not a JSON object: %w", name, err)
	}
	ip[name] = input
	return nil
}

func defaultOwner() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return u.Username
}

func main() {
	fs := flag.NewFlagSet("pkb", flag.ContinueOnError)
	benchmarkNames := fs.String("benchmarks", "iperf", "Comma-separated list of benchmarks to run.")
	cloud := fs.String("cloud", string(provider.GCP), "The cloud to provision resources on.")
	osType := fs.String("os_type", string(provider.Debian), "The OS family to run benchmarks on.")
	project := fs.String("project", "", "The cloud project to provision resources in.")
	zones := fs.String("zones", "", "Comma-separated zones to spread VMs over. The cloud's default zone is used when empty.")
	image := fs.String("image", "", "The machine image. The cloud's default image is used when empty.")
	machineType := fs.String("machine_type", "", "The machine type. The cloud's default type is used when empty.")
	numVMs := fs.Int("num_vms", 1, "How many VMs to provision for benchmarks that accept a variable count.")
	scratchDiskSize := fs.Int("scratch_disk_size", 500, "Size of scratch disks, in GB.")
	scratchDiskType := fs.String("scratch_disk_type", provider.DiskStandard, "Type of scratch disks: standard, ssd, iops, or local.")
	scratchDiskIOPS := fs.Int("scratch_disk_iops", 1500, "Provisioned IOPS for iops-type scratch disks.")
	numStripedDisks := fs.Int("num_striped_disks", 0, "Disks striped together per scratch volume. When unset, local disks are spread evenly across the requested scratch volumes.")
	runURI := fs.String("run_uri", "", "Identifies this run. Required when resuming an earlier run with run_stage.")
	runStage := fs.String("run_stage", string(runner.StageAll), "Which lifecycle stage to execute: all, prepare, run, or cleanup.")
	parallelism := fs.Int("parallelism", 1, "How many benchmarks to run concurrently.")
	staticVMFile := fs.String("static_vm_file", "", "A JSON file describing pre-existing machines to consume before creating cloud VMs.")
	pairs := configPairs{}
	fs.Var(pairs, "benchmark_config_pair", "A benchmark=path pair selecting a topology file for one benchmark. Can be used multiple times.")
	inputs := inputPairs{}
	fs.Var(inputs, "benchmark_input", "A benchmark=json pair passing input to one benchmark, e.g. iperf='{\"SendingThreadCount\": 4}'. Can be used multiple times.")
	owner := fs.String("owner", defaultOwner(), "Owner name tagged onto every provisioned resource.")
	logLevel := fs.String("log_level", "info", "Log level: debug, info, warn, or error.")
	measureRuntimes := fs.Bool("timing_measurements", true, "Also report per-phase runtime samples.")
	monitorVMs := fs.Bool("monitor_vms", false, "Sample CPU and memory usage on every VM while benchmarks run.")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	stage, err := runner.ParseStage(*runStage)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	uri := *runURI
	switch {
	case uri == "" && !stage.Includes(runner.StagePrepare):
		fmt.Fprintf(os.Stderr, "run_uri is required to resume an earlier run with run_stage=%s\n", stage)
		os.Exit(1)
	case uri == "":
		uri = util.NewRunURI()
	case !util.ValidRunURI(uri):
		fmt.Fprintf(os.Stderr, "invalid run_uri %q: must be alphanumeric and at most %d characters\n", uri, util.MaxRunURILength)
		os.Exit(1)
	}

	tempDir, err := util.EnsureTempDir(uri)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	slog.Info("starting run", slog.String("run_uri", uri), slog.String("temp_dir", tempDir))

	var benchmarks []benchmark.Benchmark
	for _, name := range strings.Split(*benchmarkNames, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !benchmark.Known(name) {
			fmt.Fprintf(os.Stderr, "unknown benchmark %q; known benchmarks: %s\n", name, strings.Join(benchmark.Names(), ", "))
			os.Exit(1)
		}
		input := inputs[name]
		if input == nil {
			input = map[string]any{}
		}
		b, err := benchmark.New(name, input)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		benchmarks = append(benchmarks, b)
	}
	if len(benchmarks) == 0 {
		fmt.Fprintln(os.Stderr, "no benchmarks selected")
		os.Exit(1)
	}

	var staticPool *staticvm.Pool
	if *staticVMFile != "" {
		staticPool, err = staticvm.LoadPool(*staticVMFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
	}

	topologies := map[string]*config.Topology{}
	for name, topoPath := range pairs {
		topo, err := config.Load(topoPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		topologies[name] = topo
	}

	collector := sample.NewCollector()
	r := &runner.Runner{
		Stage:  stage,
		RunURI: uri,
		Options: &benchmarkspec.Options{
			Cloud:             provider.Cloud(*cloud),
			OSFamily:          provider.OSFamily(*osType),
			Project:           *project,
			Zones:             splitNonEmpty(*zones),
			Image:             *image,
			MachineType:       *machineType,
			NumVMs:            *numVMs,
			ScratchDiskSizeGB: *scratchDiskSize,
			ScratchDiskType:   *scratchDiskType,
			ScratchDiskIOPS:   *scratchDiskIOPS,
			NumStripedDisks:   *numStripedDisks,
			Owner:             *owner,
			StaticVMs:         staticPool,
		},
		Collector:       collector,
		Parallelism:     *parallelism,
		Topologies:      topologies,
		MeasureRuntimes: *measureRuntimes,
		MonitorVMs:      *monitorVMs,
	}

	runErr := r.RunBenchmarks(benchmarks)

	reportPath := path.Join(tempDir, "perfkitbenchmarker_results.json")
	if err := collector.WriteReport(reportPath); err != nil {
		slog.Error("failed to write results", slog.String("error", err.Error()))
	} else {
		slog.Info("wrote results", slog.String("path", reportPath))
	}

	if !stage.Includes(runner.StageCleanup) {
		slog.Info("resources are still provisioned; resume this run to tear them down",
			slog.String("run_uri", uri),
			slog.String("next", fmt.Sprintf("--run_uri=%s --run_stage=cleanup", uri)))
	}

	if runErr != nil {
		slog.Error("one or more benchmarks failed", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
