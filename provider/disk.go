package provider

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DiskLocal    = "local"
	DiskStandard = "standard"
	DiskSSD      = "ssd"
	DiskIOPS     = "iops"
)

// DiskSpec describes one scratch volume to attach to a VM. When
// NumStripedDisks is greater than one the provider combines that many
// physical disks into a single logical volume.
type DiskSpec struct {
	SizeGB          int    `json:"size_gb"`
	Type            string `json:"type"`
	MountPoint      string `json:"mount_point"`
	IOPS            int    `json:"iops,omitempty"`
	NumStripedDisks int    `json:"num_striped_disks,omitempty"`
}

// ParseDiskSpec parses the "size:type:mountpoint" form used by topology
// files, e.g. "500:standard:/scratch0".
func ParseDiskSpec(s string) (*DiskSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, NewConfigError("disk spec %q must have the form size:type:mountpoint", s)
	}
	size, err := strconv.Atoi(parts[0])
	if err != nil || size <= 0 {
		return nil, NewConfigError("disk spec %q has a bad size", s)
	}
	switch parts[1] {
	case DiskLocal, DiskStandard, DiskSSD, DiskIOPS:
	default:
		return nil, NewConfigError("disk spec %q has unknown type %q", s, parts[1])
	}
	if !strings.HasPrefix(parts[2], "/") {
		return nil, NewConfigError("disk spec %q mountpoint must be absolute", s)
	}
	return &DiskSpec{SizeGB: size, Type: parts[1], MountPoint: parts[2]}, nil
}

// DefaultStripes computes the striping factor used when the operator did
// not pick one: spread all local disks evenly across the requested scratch
// volumes.
func DefaultStripes(maxLocalDisks, scratchDiskCount int) (int, error) {
	if scratchDiskCount <= 0 {
		return 0, fmt.Errorf("scratch disk count must be positive, got %d", scratchDiskCount)
	}
	n := maxLocalDisks / scratchDiskCount
	if n < 1 {
		n = 1
	}
	return n, nil
}
