// Package fio measures scratch disk performance with fio.
package fio

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/mitchellh/mapstructure"

	"github.com/Sheefali07/PerfKitBenchmarker/benchmark"
	benchmarkspec "github.com/Sheefali07/PerfKitBenchmarker/benchmark_spec"
	"github.com/Sheefali07/PerfKitBenchmarker/sample"
	"github.com/Sheefali07/PerfKitBenchmarker/util"
)

// Older fio releases cannot emit the JSON we parse.
var minFioVersion = version.Must(version.NewVersion("3.0.0"))

type Input struct {
	IODepth    int
	FileSizeGB int
}

type bmark struct {
	input *Input
}

func init() {
	benchmark.Register("fio", func(a map[string]any) (benchmark.Benchmark, error) {
		input := &Input{}
		err := mapstructure.Decode(a, input)
		if err != nil {
			return nil, fmt.Errorf("can't convert input to fio input: %w", err)
		}
		if input.IODepth == 0 {
			input.IODepth = 1
		}
		if input.FileSizeGB == 0 {
			input.FileSizeGB = 10
		}
		return &bmark{input: input}, nil
	})
}

func (b *bmark) GetInfo() *benchmark.Info {
	return &benchmark.Info{
		Name:             "fio",
		Description:      "Run fio against a scratch disk and report bandwidth and latency.",
		NumMachines:      1,
		ScratchDiskCount: 1,
	}
}

func (b *bmark) CheckPrerequisites() error {
	return nil
}

func (b *bmark) Prepare(spec *benchmarkspec.BenchmarkSpec) error {
	vm := spec.VMs[0]
	out, err := vm.RunCommand("sudo apt-get -y -qq install fio 2>/dev/null || sudo yum -y -q install fio")
	if err != nil {
		return fmt.Errorf("installing fio on %s: %w (output: %s)", vm.Spec().Name, err, string(out))
	}

	out, err = vm.RunCommand("fio --version")
	if err != nil {
		return fmt.Errorf("checking fio version on %s: %w", vm.Spec().Name, err)
	}
	got := strings.TrimPrefix(util.LastNonEmptyLine(out), "fio-")
	v, err := version.NewVersion(got)
	if err != nil {
		return fmt.Errorf("parsing fio version %q: %w", got, err)
	}
	if v.LessThan(minFioVersion) {
		return fmt.Errorf("fio %s on %s is older than the minimum %s", v, vm.Spec().Name, minFioVersion)
	}
	return nil
}

// fioOutput matches the pieces of fio's JSON output we report on.
type fioOutput struct {
	Jobs []struct {
		JobName string `json:"jobname"`
		Read    fioStats
		Write   fioStats
	}
}

type fioStats struct {
	BWBytes int64 `json:"bw_bytes"`
	IOPS    float64
	LatNS   struct {
		Mean float64
	} `json:"lat_ns"`
}

var scenarios = []struct {
	name string
	rw   string
}{
	{"sequential_write", "write"},
	{"sequential_read", "read"},
	{"random_write", "randwrite"},
	{"random_read", "randread"},
}

func (b *bmark) Run(spec *benchmarkspec.BenchmarkSpec) ([]sample.Sample, error) {
	vm := spec.VMs[0]
	mountPoint := vm.Spec().DiskSpecs[0].MountPoint

	var jobs strings.Builder
	for _, s := range scenarios {
		fmt.Fprintf(&jobs, " --name=%s --rw=%s", s.name, s.rw)
	}
	cmd := fmt.Sprintf(
		"cd %s && sudo fio --output-format=json --filename=fio_test_file --size=%dG --direct=1 --ioengine=libaio --iodepth=%d --bs=512k --stonewall%s",
		mountPoint, b.input.FileSizeGB, b.input.IODepth, jobs.String())
	out, err := vm.RunCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("running fio on %s: %w (output: %s)", vm.Spec().Name, err, string(out))
	}

	parsed := fioOutput{}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshalling fio output failed: %w", err)
	}
	if len(parsed.Jobs) == 0 {
		return nil, fmt.Errorf("fio reported no jobs on %s", vm.Spec().Name)
	}

	metadata := map[string]string{
		"disk_type":   vm.Spec().DiskSpecs[0].Type,
		"mount_point": mountPoint,
	}
	var samples []sample.Sample
	for _, job := range parsed.Jobs {
		stats := job.Write
		if strings.Contains(job.JobName, "read") {
			stats = job.Read
		}
		if stats.BWBytes == 0 && stats.IOPS == 0 {
			slog.Debug("skipping empty fio job", slog.String("job", job.JobName))
			continue
		}
		samples = append(samples,
			sample.New(job.JobName+":bandwidth", float64(stats.BWBytes)/1024/1024, "MB/s", metadata),
			sample.New(job.JobName+":iops", stats.IOPS, "iops", metadata),
			sample.New(job.JobName+":latency", stats.LatNS.Mean/1e6, "ms", metadata),
		)
	}
	return samples, nil
}

func (b *bmark) Cleanup(spec *benchmarkspec.BenchmarkSpec) error {
	vm := spec.VMs[0]
	mountPoint := vm.Spec().DiskSpecs[0].MountPoint
	_, err := vm.RunCommand(fmt.Sprintf("sudo rm -f %s/fio_test_file", mountPoint))
	if err != nil {
		return fmt.Errorf("removing fio test file on %s: %w", vm.Spec().Name, err)
	}
	return nil
}
