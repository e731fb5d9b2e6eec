// Package systemmonitor samples CPU and memory usage on VMs while a
// benchmark runs, so results can be correlated with machine saturation.
package systemmonitor

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sheefali07/PerfKitBenchmarker/provider"
	"github.com/Sheefali07/PerfKitBenchmarker/sample"
)

var loopTime = 1 * time.Second
var maxJitter = 1 * time.Second

// Monitor polls one VM in the background. Start it before the benchmark's
// run hook and Stop it after; Samples then summarizes what it saw.
type Monitor struct {
	vm   provider.VirtualMachine
	stop atomic.Bool
	wg   sync.WaitGroup

	mu         sync.Mutex
	cpuBusyPct []float64
	memUsedPct []float64
}

func New(vm provider.VirtualMachine) *Monitor {
	return &Monitor{vm: vm}
}

func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop ends the polling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stop.Store(true)
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	var prevCPU *cpuTimeStat
	lastWakeTime := time.Now()
	for !m.stop.Load() {
		jitterMs := time.Since(lastWakeTime).Milliseconds() - loopTime.Milliseconds()
		if jitterMs > maxJitter.Milliseconds() {
			slog.Warn("system monitor: jitter exceeded maximum",
				slog.String("vm", m.vm.Spec().Name), slog.Int64("jitterMs", jitterMs))
		}
		time.Sleep(loopTime)
		lastWakeTime = time.Now()

		buf, err := m.vm.RunCommand("cat /proc/stat")
		if err != nil {
			slog.Debug("system monitor: failed to read /proc/stat",
				slog.String("vm", m.vm.Spec().Name), slog.String("error", err.Error()))
			continue
		}
		cpu := parseCPUTimeStat(buf)
		if cpu != nil && prevCPU != nil {
			if pct, ok := busyPct(prevCPU, cpu); ok {
				m.mu.Lock()
				m.cpuBusyPct = append(m.cpuBusyPct, pct)
				m.mu.Unlock()
			}
		}
		if cpu != nil {
			prevCPU = cpu
		}

		buf, err = m.vm.RunCommand("cat /proc/meminfo")
		if err != nil {
			slog.Debug("system monitor: failed to read /proc/meminfo",
				slog.String("vm", m.vm.Spec().Name), slog.String("error", err.Error()))
			continue
		}
		if pct, ok := parseMemUsedPct(buf); ok {
			m.mu.Lock()
			m.memUsedPct = append(m.memUsedPct, pct)
			m.mu.Unlock()
		}
	}
}

// Samples summarizes the collected measurements. Empty when the run was too
// short to complete a polling interval.
func (m *Monitor) Samples() []sample.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	metadata := map[string]string{
		"vm":               m.vm.Spec().Name,
		"machine_type":     m.vm.Spec().MachineType,
		"polling_interval": strconv.Itoa(int(loopTime.Seconds())),
	}
	var samples []sample.Sample
	if avg, peak, ok := summarize(m.cpuBusyPct); ok {
		samples = append(samples,
			sample.New("CPU Utilization Average", avg, "%", metadata),
			sample.New("CPU Utilization Peak", peak, "%", metadata))
	}
	if avg, peak, ok := summarize(m.memUsedPct); ok {
		samples = append(samples,
			sample.New("Memory Utilization Average", avg, "%", metadata),
			sample.New("Memory Utilization Peak", peak, "%", metadata))
	}
	return samples
}

func summarize(values []float64) (avg, peak float64, ok bool) {
	if len(values) == 0 {
		return 0, 0, false
	}
	for _, v := range values {
		avg += v
		if v > peak {
			peak = v
		}
	}
	return avg / float64(len(values)), peak, true
}
