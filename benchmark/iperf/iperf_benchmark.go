// Package iperf measures TCP throughput between two VMs.
package iperf

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/mitchellh/mapstructure"

	"github.com/Sheefali07/PerfKitBenchmarker/benchmark"
	benchmarkspec "github.com/Sheefali07/PerfKitBenchmarker/benchmark_spec"
	"github.com/Sheefali07/PerfKitBenchmarker/sample"
	"github.com/Sheefali07/PerfKitBenchmarker/util"
)

const iperfPort = 5001

type Input struct {
	SendingThreadCount int
	RuntimeSeconds     int
}

type bmark struct {
	input *Input
}

func init() {
	benchmark.Register("iperf", func(a map[string]any) (benchmark.Benchmark, error) {
		input := &Input{}
		err := mapstructure.Decode(a, input)
		if err != nil {
			return nil, fmt.Errorf("can't convert input to iperf input: %w", err)
		}
		if input.SendingThreadCount == 0 {
			input.SendingThreadCount = 1
		}
		if input.RuntimeSeconds == 0 {
			input.RuntimeSeconds = 60
		}
		return &bmark{input: input}, nil
	})
}

func (b *bmark) GetInfo() *benchmark.Info {
	return &benchmark.Info{
		Name:        "iperf",
		Description: "Run iperf between two machines and report TCP throughput.",
		NumMachines: 2,
	}
}

func (b *bmark) CheckPrerequisites() error {
	return nil
}

func (b *bmark) Prepare(spec *benchmarkspec.BenchmarkSpec) error {
	for _, vm := range spec.VMs {
		out, err := vm.RunCommand("sudo apt-get -y -qq install iperf 2>/dev/null || sudo yum -y -q install iperf")
		if err != nil {
			return fmt.Errorf("installing iperf on %s: %w (output: %s)", vm.Spec().Name, err, string(out))
		}
		if err := spec.Firewall.AllowPort(vm, iperfPort); err != nil {
			return err
		}
	}

	server := spec.VMs[0]
	out, err := server.RunCommand(fmt.Sprintf("nohup iperf --server --port %d >/dev/null 2>&1 & sleep 1", iperfPort))
	if err != nil {
		return fmt.Errorf("starting iperf server on %s: %w (output: %s)", server.Spec().Name, err, string(out))
	}
	return nil
}

var throughputRe = regexp.MustCompile(`(\d+(?:\.\d+)?) ([GM])bits/sec`)

// parseThroughput reads the summary line iperf prints last and returns the
// reported bandwidth in Mbits/sec.
func parseThroughput(out []byte) (float64, error) {
	line := util.LastNonEmptyLine(out)
	slog.Debug("selected iperf output", slog.String("line", line))
	m := throughputRe.FindStringSubmatch(line)
	if m == nil {
		return 0, fmt.Errorf("no throughput in iperf output: %q", line)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("parsing iperf throughput %q: %w", m[1], err)
	}
	if m[2] == "G" {
		value *= 1000
	}
	return value, nil
}

func (b *bmark) Run(spec *benchmarkspec.BenchmarkSpec) ([]sample.Sample, error) {
	server, client := spec.VMs[0], spec.VMs[1]
	cmd := fmt.Sprintf("iperf --client %s --port %d --format m --time %d --parallel %d",
		server.IPAddress(), iperfPort, b.input.RuntimeSeconds, b.input.SendingThreadCount)
	out, err := client.RunCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("running iperf on %s: %w (output: %s)", client.Spec().Name, err, string(out))
	}

	value, err := parseThroughput(out)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		"sending_thread_count": strconv.Itoa(b.input.SendingThreadCount),
		"runtime_seconds":      strconv.Itoa(b.input.RuntimeSeconds),
		"receiving_machine":    server.Spec().MachineType,
		"sending_machine":      client.Spec().MachineType,
	}
	return []sample.Sample{sample.New("Throughput", value, "Mbits/sec", metadata)}, nil
}

func (b *bmark) Cleanup(spec *benchmarkspec.BenchmarkSpec) error {
	server := spec.VMs[0]
	_, err := server.RunCommand("pkill -9 iperf || true")
	if err != nil {
		return fmt.Errorf("stopping iperf server on %s: %w", server.Spec().Name, err)
	}
	return nil
}
