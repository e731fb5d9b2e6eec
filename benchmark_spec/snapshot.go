package benchmarkspec

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Sheefali07/PerfKitBenchmarker/provider"
	staticvm "github.com/Sheefali07/PerfKitBenchmarker/static_vm"
)

// Snapshots carry only plain data records; live handles are reconstructed
// from them through the provider registry on load. Not intended for
// cross-version compatibility.
const snapshotVersion = 1

type snapshot struct {
	Version           int                `json:"version"`
	BenchmarkName     string             `json:"benchmark_name"`
	RunURI            string             `json:"run_uri"`
	Cloud             provider.Cloud     `json:"cloud"`
	OSFamily          provider.OSFamily  `json:"os_family"`
	Project           string             `json:"project,omitempty"`
	Zones             []string           `json:"zones"`
	Image             string             `json:"image"`
	MachineType       string             `json:"machine_type"`
	NumVMs            int                `json:"num_vms"`
	ScratchDiskCount  int                `json:"scratch_disk_count"`
	AlwaysCallCleanup bool               `json:"always_call_cleanup"`
	VMSpecs           []*provider.VMSpec `json:"vm_specs"`
	Groups            map[string][]int   `json:"groups"`
	NetworkZones      []string           `json:"network_zones"`
}

// Save persists the spec so a later invocation sharing the run_uri can
// resume it. Called before the first cloud call so a crash mid-provisioning
// still leaves a deletable record.
func (s *BenchmarkSpec) Save() error {
	snap := &snapshot{
		Version:           snapshotVersion,
		BenchmarkName:     s.BenchmarkName,
		RunURI:            s.RunURI,
		Cloud:             s.Cloud,
		OSFamily:          s.OSFamily,
		Project:           s.Project,
		Zones:             s.Zones,
		Image:             s.Image,
		MachineType:       s.MachineType,
		NumVMs:            s.NumVMs,
		ScratchDiskCount:  s.ScratchDiskCount,
		AlwaysCallCleanup: s.AlwaysCallCleanup,
		Groups:            map[string][]int{},
	}

	indexOf := map[provider.VirtualMachine]int{}
	for i, vm := range s.VMs {
		indexOf[vm] = i
		snap.VMSpecs = append(snap.VMSpecs, vm.Spec())
	}
	for name, vms := range s.VMGroups {
		for _, vm := range vms {
			snap.Groups[name] = append(snap.Groups[name], indexOf[vm])
		}
	}
	for zone := range s.Networks {
		snap.NetworkZones = append(snap.NetworkZones, zone)
	}

	buf, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling spec snapshot: %w", err)
	}
	if err := os.WriteFile(s.fileName, buf, 0o644); err != nil {
		return fmt.Errorf("writing spec snapshot %s: %w", s.fileName, err)
	}
	return nil
}

// Load reconstructs a spec from its snapshot. The deleted flag always
// starts false so cleanup stays possible even after a prior run attempt. A
// failed load is fatal to the resuming stage.
func Load(runURI, benchmarkName string) (*BenchmarkSpec, error) {
	fileName := SnapshotPath(runURI, benchmarkName)
	buf, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("reading spec snapshot %s: %w", fileName, err)
	}
	snap := &snapshot{}
	if err := json.Unmarshal(buf, snap); err != nil {
		return nil, fmt.Errorf("parsing spec snapshot %s: %w", fileName, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("spec snapshot %s has version %d, want %d", fileName, snap.Version, snapshotVersion)
	}

	firewallFactory, err := provider.FirewallFactoryFor(snap.Cloud)
	if err != nil {
		return nil, err
	}
	s := &BenchmarkSpec{
		BenchmarkName:    snap.BenchmarkName,
		RunURI:           snap.RunURI,
		Cloud:            snap.Cloud,
		OSFamily:         snap.OSFamily,
		Project:          snap.Project,
		Zones:            snap.Zones,
		Image:            snap.Image,
		MachineType:      snap.MachineType,
		NumVMs:           snap.NumVMs,
		ScratchDiskCount: snap.ScratchDiskCount,
		// Cleared on load on purpose; see doc comment.
		Deleted:           false,
		AlwaysCallCleanup: snap.AlwaysCallCleanup,
		VMGroups:          map[string][]provider.VirtualMachine{},
		Networks:          map[string]provider.Network{},
		Firewall:          firewallFactory(snap.Project),
		fileName:          fileName,
	}

	for _, vmSpec := range snap.VMSpecs {
		vm, err := rebuildVM(vmSpec)
		if err != nil {
			return nil, err
		}
		s.VMs = append(s.VMs, vm)
	}
	for name, indices := range snap.Groups {
		for _, i := range indices {
			if i < 0 || i >= len(s.VMs) {
				return nil, fmt.Errorf("spec snapshot %s references VM %d out of %d", fileName, i, len(s.VMs))
			}
			s.VMGroups[name] = append(s.VMGroups[name], s.VMs[i])
		}
	}
	networkFactory, err := provider.NetworkFactoryFor(snap.Cloud)
	if err != nil {
		return nil, err
	}
	for _, zone := range snap.NetworkZones {
		s.Networks[zone] = networkFactory(snap.Project, zone)
	}
	return s, nil
}

func rebuildVM(vmSpec *provider.VMSpec) (provider.VirtualMachine, error) {
	if vmSpec.Static != nil {
		return staticvm.New(vmSpec)
	}
	vmFactory, err := provider.VMFactoryFor(vmSpec.Cloud, vmSpec.OSFamily)
	if err != nil {
		return nil, err
	}
	return vmFactory(vmSpec)
}

// HasSnapshot reports whether a resumable snapshot exists for the pair.
func HasSnapshot(runURI, benchmarkName string) bool {
	_, err := os.Stat(SnapshotPath(runURI, benchmarkName))
	return err == nil
}
