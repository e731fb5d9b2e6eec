package provider

import (
	"errors"
	"fmt"
	"sync"
)

type Cloud string

const (
	GCP          Cloud = "GCP"
	AWS          Cloud = "AWS"
	Azure        Cloud = "Azure"
	DigitalOcean Cloud = "DigitalOcean"
)

type OSFamily string

const (
	Debian  OSFamily = "debian"
	Rhel    OSFamily = "rhel"
	Windows OSFamily = "windows"
)

// Raised for problems that must fail fast before any cloud resource is
// touched (unsupported provider/OS pairs, bad benchmark metadata, malformed
// run identifiers).
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return e.Reason
}

func NewConfigError(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

var (
	// The cloud cannot satisfy the request right now (capacity, quota,
	// spot price). Benchmarks may branch on this kind, e.g. to record an
	// interruptible instance as early-terminated instead of failed.
	ErrInsufficientCapacity = errors.New("insufficient cloud capacity")

	// The cloud reported a status outside the known set. Never retried:
	// the lifecycle state machine cannot reason about it.
	ErrUnknownState = errors.New("resource in unknown state")
)

type VMFactory func(spec *VMSpec) (VirtualMachine, error)

type NetworkFactory func(project, zone string) Network

type FirewallFactory func(project string) Firewall

// Registration holds everything one cloud provider contributes: a VM
// factory per supported OS family plus network and firewall factories.
// Providers register themselves at process start.
type Registration struct {
	VMs      map[OSFamily]VMFactory
	Network  NetworkFactory
	Firewall FirewallFactory
}

var (
	registryMu sync.RWMutex
	registry   = map[Cloud]*Registration{}
)

func Register(cloud Cloud, r *Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[cloud] = r
}

func lookup(cloud Cloud) (*Registration, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[cloud]
	if !ok {
		return nil, NewConfigError("no provider registered for cloud %q", cloud)
	}
	return r, nil
}

func VMFactoryFor(cloud Cloud, osFamily OSFamily) (VMFactory, error) {
	r, err := lookup(cloud)
	if err != nil {
		return nil, err
	}
	f, ok := r.VMs[osFamily]
	if !ok {
		return nil, NewConfigError("cloud %q does not support VMs of OS family %q", cloud, osFamily)
	}
	return f, nil
}

func NetworkFactoryFor(cloud Cloud) (NetworkFactory, error) {
	r, err := lookup(cloud)
	if err != nil {
		return nil, err
	}
	return r.Network, nil
}

func FirewallFactoryFor(cloud Cloud) (FirewallFactory, error) {
	r, err := lookup(cloud)
	if err != nil {
		return nil, err
	}
	return r.Firewall, nil
}
