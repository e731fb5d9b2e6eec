package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Sheefali07/PerfKitBenchmarker/provider"
)

// NodeGroup declares one named set of identical VMs in a topology file.
type NodeGroup struct {
	VMType    string   `yaml:"vm_type"`
	Image     string   `yaml:"image"`
	Zone      string   `yaml:"zone,omitempty"`
	Count     int      `yaml:"count"`
	DiskSpecs []string `yaml:"disk_specs,omitempty"` // size:type:mountpoint
}

// Topology is a declarative description of the machines a benchmark should
// run on, overriding flag-driven defaults.
type Topology struct {
	Cloud   string               `yaml:"cloud"`
	Project string               `yaml:"project,omitempty"`
	Groups  map[string]NodeGroup `yaml:"groups"`
}

func Load(path string) (*Topology, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file %s: %w", path, err)
	}
	return Parse(buf)
}

func Parse(buf []byte) (*Topology, error) {
	topo := &Topology{}
	if err := yaml.Unmarshal(buf, topo); err != nil {
		return nil, provider.NewConfigError("parsing topology: %v", err)
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return topo, nil
}

func (t *Topology) Validate() error {
	if t.Cloud == "" {
		return provider.NewConfigError("topology does not name a cloud")
	}
	if len(t.Groups) == 0 {
		return provider.NewConfigError("topology has no node groups")
	}
	for name, g := range t.Groups {
		if g.Count < 1 {
			return provider.NewConfigError("node group %q has count %d", name, g.Count)
		}
		if g.VMType == "" {
			return provider.NewConfigError("node group %q has no vm_type", name)
		}
		if g.Image == "" {
			return provider.NewConfigError("node group %q has no image", name)
		}
		for _, ds := range g.DiskSpecs {
			if _, err := provider.ParseDiskSpec(ds); err != nil {
				return fmt.Errorf("node group %q: %w", name, err)
			}
		}
	}
	return nil
}
