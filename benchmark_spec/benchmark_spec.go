package benchmarkspec

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/alitto/pond"

	"github.com/Sheefali07/PerfKitBenchmarker/config"
	"github.com/Sheefali07/PerfKitBenchmarker/provider"
	staticvm "github.com/Sheefali07/PerfKitBenchmarker/static_vm"
	"github.com/Sheefali07/PerfKitBenchmarker/util"
)

// Options carries the operator-supplied knobs a spec is built from. Zero
// values fall back to the provider's defaults table.
type Options struct {
	Cloud             provider.Cloud
	OSFamily          provider.OSFamily
	Project           string
	Zones             []string
	Image             string
	MachineType       string
	NumVMs            int
	ScratchDiskSizeGB int
	ScratchDiskType   string
	ScratchDiskIOPS   int
	// Disks striped per scratch volume. 0 means unset: local disks are
	// spread evenly across the requested scratch volumes.
	NumStripedDisks int
	// Caps every provisioning/teardown fan-out. 0 means one worker per
	// resource.
	MaxConcurrency int
	Owner          string
	// Pre-existing machines to consume before creating cloud VMs.
	StaticVMs *staticvm.Pool
}

// BenchmarkSpec is the aggregate root for one benchmark execution: the
// resource plan, the live handles, and the lifecycle flags. It is built
// fresh during the prepare stage or reconstructed from a snapshot when a
// later stage resumes the same run_uri.
type BenchmarkSpec struct {
	BenchmarkName string
	RunURI        string
	Cloud         provider.Cloud
	OSFamily      provider.OSFamily
	Project       string
	Zones         []string
	Image         string
	MachineType   string

	NumVMs           int
	ScratchDiskCount int

	// Insertion order is creation order.
	VMs []provider.VirtualMachine
	// Logical group name -> member VMs. Every VM belongs to exactly one
	// group; "default" is used when no topology is given.
	VMGroups map[string][]provider.VirtualMachine
	// Zone -> network handle. A zone has a handle iff at least one cloud
	// VM targets it.
	Networks map[string]provider.Network
	Firewall provider.Firewall

	// Monotonic: once true, Delete is a no-op.
	Deleted bool
	// Set by a benchmark's Prepare hook to force Cleanup even when Prepare
	// partially failed.
	AlwaysCallCleanup bool

	maxConcurrency int
	fileName       string
	owner          string
	staticVMs      *staticvm.Pool

	mu sync.Mutex
}

const DefaultGroup = "default"

// New builds a spec from flags and provider defaults. VM handles are
// allocated but nothing touches the cloud until Prepare.
func New(benchmarkName, runURI string, numMachines, scratchDiskCount int, opts *Options) (*BenchmarkSpec, error) {
	defaults, err := provider.DefaultsFor(opts.Cloud)
	if err != nil {
		return nil, err
	}

	zones := opts.Zones
	if len(zones) == 0 {
		zones = []string{defaults.Zone}
	}
	image := opts.Image
	if image == "" {
		image = defaults.ImageFor(opts.OSFamily)
	}
	if image == "" {
		return nil, provider.NewConfigError(
			"cloud %q has no default image for OS family %q; an explicit image is required", opts.Cloud, opts.OSFamily)
	}
	machineType := opts.MachineType
	if machineType == "" {
		machineType = defaults.MachineType
	}
	numVMs := numMachines
	if numVMs < 1 {
		numVMs = max(opts.NumVMs, 1)
	}

	s, err := newEmpty(benchmarkName, runURI, opts)
	if err != nil {
		return nil, err
	}
	s.Zones = zones
	s.Image = image
	s.MachineType = machineType
	s.ScratchDiskCount = scratchDiskCount

	for i := 0; i < numVMs; i++ {
		zone := zones[min(i, len(zones)-1)]
		vm, err := s.createVirtualMachine(i, zone, machineType, image)
		if err != nil {
			return nil, err
		}
		s.VMs = append(s.VMs, vm)
	}
	s.VMGroups[DefaultGroup] = s.VMs
	s.NumVMs = len(s.VMs)

	if err := s.attachScratchDiskSpecs(scratchDiskCount, opts); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFromTopology builds a spec from a declarative node-group topology.
// Groups are allocated concurrently; distinct images, zones, and machine
// types used across groups are accumulated for reporting.
func NewFromTopology(benchmarkName, runURI string, topo *config.Topology, opts *Options) (*BenchmarkSpec, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	groupOpts := *opts
	groupOpts.Cloud = provider.Cloud(topo.Cloud)
	if topo.Project != "" {
		groupOpts.Project = topo.Project
	}
	defaults, err := provider.DefaultsFor(groupOpts.Cloud)
	if err != nil {
		return nil, err
	}

	s, err := newEmpty(benchmarkName, runURI, &groupOpts)
	if err != nil {
		return nil, err
	}

	// Fail on unsupported OS before spawning any allocation work.
	if _, err := provider.VMFactoryFor(s.Cloud, s.OSFamily); err != nil {
		return nil, err
	}

	pool := pond.New(poolSize(len(topo.Groups), opts.MaxConcurrency), 0)
	group, _ := pool.GroupContext(context.Background())
	for name, ng := range topo.Groups {
		group.Submit(func() error {
			return s.allocateNodeGroup(name, ng, defaults.Zone)
		})
	}
	err = group.Wait()
	pool.StopAndWait()
	if err != nil {
		return nil, err
	}

	s.NumVMs = len(s.VMs)
	return s, nil
}

func newEmpty(benchmarkName, runURI string, opts *Options) (*BenchmarkSpec, error) {
	firewallFactory, err := provider.FirewallFactoryFor(opts.Cloud)
	if err != nil {
		return nil, err
	}
	return &BenchmarkSpec{
		BenchmarkName:  benchmarkName,
		RunURI:         runURI,
		Cloud:          opts.Cloud,
		OSFamily:       opts.OSFamily,
		Project:        opts.Project,
		VMGroups:       map[string][]provider.VirtualMachine{},
		Networks:       map[string]provider.Network{},
		Firewall:       firewallFactory(opts.Project),
		maxConcurrency: opts.MaxConcurrency,
		fileName:       SnapshotPath(runURI, benchmarkName),
		staticVMs:      opts.StaticVMs,
		owner:          opts.Owner,
	}, nil
}

// allocateNodeGroup allocates count identical VMs for one named group and
// merges them into the spec under the lock.
func (s *BenchmarkSpec) allocateNodeGroup(name string, ng config.NodeGroup, defaultZone string) error {
	zone := ng.Zone
	if zone == "" {
		zone = defaultZone
	}

	var diskSpecs []provider.DiskSpec
	for _, raw := range ng.DiskSpecs {
		ds, err := provider.ParseDiskSpec(raw)
		if err != nil {
			return err
		}
		diskSpecs = append(diskSpecs, *ds)
	}

	vmFactory, err := provider.VMFactoryFor(s.Cloud, s.OSFamily)
	if err != nil {
		return err
	}

	var vms []provider.VirtualMachine
	for i := 0; i < ng.Count; i++ {
		vmSpec := &provider.VMSpec{
			Name:        fmt.Sprintf("pkb-%s-%s-%d", s.RunURI, name, i),
			Cloud:       s.Cloud,
			OSFamily:    s.OSFamily,
			Project:     s.Project,
			Zone:        zone,
			MachineType: ng.VMType,
			Image:       ng.Image,
			DiskSpecs:   append([]provider.DiskSpec(nil), diskSpecs...),
		}
		vm, err := vmFactory(vmSpec)
		if err != nil {
			return err
		}
		vms = append(vms, vm)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureNetworkLocked(zone); err != nil {
		return err
	}
	s.VMs = append(s.VMs, vms...)
	s.VMGroups[name] = append(s.VMGroups[name], vms...)
	if !contains(s.Zones, zone) {
		s.Zones = append(s.Zones, zone)
	}
	if !strings.Contains(s.Image, ng.Image) {
		s.Image = joinDistinct(s.Image, ng.Image)
	}
	if !strings.Contains(s.MachineType, ng.VMType) {
		s.MachineType = joinDistinct(s.MachineType, ng.VMType)
	}
	return nil
}

// createVirtualMachine allocates one VM handle: a static machine when the
// pool has one, otherwise a cloud handle, lazily creating the zone's
// network handle.
func (s *BenchmarkSpec) createVirtualMachine(index int, zone, machineType, image string) (provider.VirtualMachine, error) {
	if s.staticVMs != nil {
		vm, err := s.staticVMs.Get()
		if err != nil {
			return nil, err
		}
		if vm != nil {
			return vm, nil
		}
	}

	vmFactory, err := provider.VMFactoryFor(s.Cloud, s.OSFamily)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	err = s.ensureNetworkLocked(zone)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return vmFactory(&provider.VMSpec{
		Name:        fmt.Sprintf("pkb-%s-vm%d", s.RunURI, index),
		Cloud:       s.Cloud,
		OSFamily:    s.OSFamily,
		Project:     s.Project,
		Zone:        zone,
		MachineType: machineType,
		Image:       image,
	})
}

func (s *BenchmarkSpec) ensureNetworkLocked(zone string) error {
	if _, ok := s.Networks[zone]; ok {
		return nil
	}
	networkFactory, err := provider.NetworkFactoryFor(s.Cloud)
	if err != nil {
		return err
	}
	s.Networks[zone] = networkFactory(s.Project, zone)
	return nil
}

func (s *BenchmarkSpec) attachScratchDiskSpecs(scratchDiskCount int, opts *Options) error {
	if scratchDiskCount < 1 {
		return nil
	}
	diskType := opts.ScratchDiskType
	if diskType == "" {
		diskType = provider.DiskStandard
	}
	for _, vm := range s.VMs {
		stripes := opts.NumStripedDisks
		if diskType == provider.DiskLocal && stripes == 0 {
			var err error
			stripes, err = provider.DefaultStripes(vm.MaxLocalDisks(), scratchDiskCount)
			if err != nil {
				return err
			}
		}
		if stripes == 0 {
			stripes = 1
		}
		for i := 0; i < scratchDiskCount; i++ {
			vm.Spec().DiskSpecs = append(vm.Spec().DiskSpecs, provider.DiskSpec{
				SizeGB:          opts.ScratchDiskSizeGB,
				Type:            diskType,
				MountPoint:      fmt.Sprintf("/scratch%d", i),
				IOPS:            opts.ScratchDiskIOPS,
				NumStripedDisks: stripes,
			})
		}
	}
	return nil
}

// Prepare brings every declared network, VM, and firewall rule into
// existence. Safe to call exactly once per spec. Any failure fails the
// whole stage: a half-provisioned spec cannot safely run a benchmark.
func (s *BenchmarkSpec) Prepare() error {
	if len(s.Networks) > 0 {
		pool := pond.New(poolSize(len(s.Networks), s.maxConcurrency), 0)
		group, _ := pool.GroupContext(context.Background())
		for zone, network := range s.Networks {
			group.Submit(func() error {
				slog.Info("creating network", slog.String("zone", zone), slog.String("benchmark", s.BenchmarkName))
				if err := network.Create(); err != nil {
					return fmt.Errorf("creating network in zone %s: %w", zone, err)
				}
				return nil
			})
		}
		err := group.Wait()
		pool.StopAndWait()
		if err != nil {
			return err
		}
	}

	if len(s.VMs) > 0 {
		pool := pond.New(poolSize(len(s.VMs), s.maxConcurrency), 0)
		group, _ := pool.GroupContext(context.Background())
		for _, vm := range s.VMs {
			group.Submit(func() error {
				return s.prepareVM(vm)
			})
		}
		err := group.Wait()
		pool.StopAndWait()
		if err != nil {
			return err
		}
	}
	return nil
}

// prepareVM runs one VM's pipeline. Steps are strictly sequential within a
// VM; there is no ordering across VMs.
func (s *BenchmarkSpec) prepareVM(vm provider.VirtualMachine) error {
	name := vm.Spec().Name
	if err := vm.Create(); err != nil {
		return fmt.Errorf("creating VM %s: %w", name, err)
	}
	slog.Info("VM created", slog.String("vm", name))

	if err := vm.WaitForBootCompletion(); err != nil {
		return fmt.Errorf("waiting for VM %s to boot: %w", name, err)
	}
	// Some clouds only resolve the public address while waiting for boot,
	// so the address is not logged until here.
	slog.Info("VM reachable", slog.String("vm", name), slog.String("ip", vm.IPAddress()))

	for _, port := range vm.RemoteAccessPorts() {
		if err := s.Firewall.AllowPort(vm, port); err != nil {
			return fmt.Errorf("opening port %d for VM %s: %w", port, name, err)
		}
	}

	tags := map[string]string{
		"benchmark": s.BenchmarkName,
		"run_uri":   s.RunURI,
	}
	if s.owner != "" {
		tags["owner"] = s.owner
	}
	if err := vm.AddMetadata(tags); err != nil {
		return fmt.Errorf("tagging VM %s: %w", name, err)
	}

	if err := vm.Startup(); err != nil {
		return fmt.Errorf("running startup hooks on VM %s: %w", name, err)
	}

	if hasLocalDisk(vm.Spec().DiskSpecs) {
		if err := vm.SetupLocalDisks(); err != nil {
			return fmt.Errorf("setting up local disks on VM %s: %w", name, err)
		}
	}
	for i := range vm.Spec().DiskSpecs {
		if err := vm.CreateScratchDisk(&vm.Spec().DiskSpecs[i]); err != nil {
			return fmt.Errorf("creating scratch disk %d on VM %s: %w", i, name, err)
		}
	}
	return nil
}

func hasLocalDisk(specs []provider.DiskSpec) bool {
	for _, ds := range specs {
		if ds.Type == provider.DiskLocal {
			return true
		}
	}
	return false
}

func poolSize(resources, cap int) int {
	if resources < 1 {
		resources = 1
	}
	if cap > 0 && resources > cap {
		return cap
	}
	return resources
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func joinDistinct(joined, value string) string {
	if joined == "" {
		return value
	}
	return joined + "," + value
}

// SnapshotPath is where a spec persists itself between stage invocations.
func SnapshotPath(runURI, benchmarkName string) string {
	return path.Join(util.TempDir(runURI), benchmarkName)
}
