package benchmarkspec

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alitto/pond"

	"github.com/Sheefali07/PerfKitBenchmarker/provider"
)

type TeardownOutcome string

const (
	OutcomeDeleted     TeardownOutcome = "deleted"
	OutcomeAlreadyGone TeardownOutcome = "already_gone"
	OutcomeFailed      TeardownOutcome = "failed"
)

// TeardownReport records what happened to each owned resource during
// Delete. Failures live here, not in a returned error: teardown is
// best-effort and must visit every resource.
type TeardownReport struct {
	mu       sync.Mutex
	VMs      map[string]TeardownOutcome
	Firewall TeardownOutcome
	Networks map[string]TeardownOutcome
}

func newTeardownReport() *TeardownReport {
	return &TeardownReport{
		VMs:      map[string]TeardownOutcome{},
		Networks: map[string]TeardownOutcome{},
	}
}

func (r *TeardownReport) setVM(name string, o TeardownOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.VMs[name] = o
}

// FailedResources lists the resources whose teardown failed, in stable
// order.
func (r *TeardownReport) FailedResources() []string {
	var failed []string
	for name, o := range r.VMs {
		if o == OutcomeFailed {
			failed = append(failed, "vm:"+name)
		}
	}
	if r.Firewall == OutcomeFailed {
		failed = append(failed, "firewall")
	}
	for zone, o := range r.Networks {
		if o == OutcomeFailed {
			failed = append(failed, "network:"+zone)
		}
	}
	sort.Strings(failed)
	return failed
}

func (r *TeardownReport) AllSucceeded() bool {
	return len(r.FailedResources()) == 0
}

// Delete attempts to release every resource the spec owns, regardless of
// individual failures, and marks the spec deleted so a second call is a
// no-op. VMs go first, then firewall rules, then networks; one step's
// failure never blocks the next.
func (s *BenchmarkSpec) Delete() *TeardownReport {
	s.mu.Lock()
	if s.Deleted {
		s.mu.Unlock()
		return newTeardownReport()
	}
	s.mu.Unlock()

	report := newTeardownReport()

	if len(s.VMs) > 0 {
		pool := pond.New(poolSize(len(s.VMs), s.maxConcurrency), 0)
		for _, vm := range s.VMs {
			pool.Submit(func() {
				report.setVM(vm.Spec().Name, s.deleteVM(vm))
			})
		}
		pool.StopAndWait()
	}

	if s.Firewall != nil {
		if err := s.Firewall.DisallowAllPorts(); err != nil {
			slog.Error("failed to disallow firewall ports, continuing teardown",
				slog.String("benchmark", s.BenchmarkName), slog.String("error", err.Error()))
			report.Firewall = OutcomeFailed
		} else {
			report.Firewall = OutcomeDeleted
		}
	}

	for zone, network := range s.Networks {
		report.Networks[zone] = s.deleteNetwork(zone, network)
	}

	s.mu.Lock()
	s.Deleted = true
	s.mu.Unlock()
	return report
}

func (s *BenchmarkSpec) deleteVM(vm provider.VirtualMachine) TeardownOutcome {
	name := vm.Spec().Name

	if static, ok := vm.(provider.StaticMachine); ok && static.InstallsPackages() {
		if err := static.PackageCleanup(); err != nil {
			slog.Warn("package cleanup failed on static VM, continuing teardown",
				slog.String("vm", name), slog.String("error", err.Error()))
		}
	}

	if exists, err := vm.Exists(); err == nil && !exists {
		slog.Info("VM already gone", slog.String("vm", name))
		return OutcomeAlreadyGone
	}

	if err := vm.Delete(); err != nil {
		slog.Error("failed to delete VM, continuing teardown",
			slog.String("vm", name), slog.String("error", err.Error()))
		return OutcomeFailed
	}
	if err := vm.DeleteScratchDisks(); err != nil {
		slog.Error("failed to delete scratch disks, continuing teardown",
			slog.String("vm", name), slog.String("error", err.Error()))
		return OutcomeFailed
	}
	return OutcomeDeleted
}

func (s *BenchmarkSpec) deleteNetwork(zone string, network provider.Network) TeardownOutcome {
	if exists, err := network.Exists(); err == nil && !exists {
		return OutcomeAlreadyGone
	}
	if err := network.Delete(); err != nil {
		slog.Error("failed to delete network, continuing teardown",
			slog.String("zone", zone), slog.String("error", err.Error()))
		return OutcomeFailed
	}
	return OutcomeDeleted
}

// String summarizes the report for logs.
func (r *TeardownReport) String() string {
	failed := r.FailedResources()
	if len(failed) == 0 {
		return "all resources released"
	}
	return fmt.Sprintf("%d resources failed to release: %v", len(failed), failed)
}
