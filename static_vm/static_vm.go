package staticvm

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Sheefali07/PerfKitBenchmarker/provider"
	"github.com/Sheefali07/PerfKitBenchmarker/target"
)

// InstallDir is where benchmarks put software on a static machine. Package
// cleanup removes it so the machine is reusable.
const InstallDir = "/tmp/pkb"

// Pool hands out operator-supplied machines, each at most once. Specs are
// consumed in file order.
type Pool struct {
	mu    sync.Mutex
	specs []*provider.VMSpec
}

type fileEntry struct {
	IP              string `json:"ip"`
	User            string `json:"user"`
	KeyFile         string `json:"key_file"`
	SSHPort         int    `json:"ssh_port"`
	Zone            string `json:"zone"`
	OSFamily        string `json:"os_family"`
	InstallPackages *bool  `json:"install_packages"`
}

func LoadPool(path string) (*Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening static VM file %s: %w", path, err)
	}
	defer f.Close()
	return ReadPool(f)
}

func ReadPool(r io.Reader) (*Pool, error) {
	var entries []fileEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, provider.NewConfigError("parsing static VM file: %v", err)
	}
	p := &Pool{}
	for i, e := range entries {
		if e.IP == "" || e.User == "" || e.KeyFile == "" {
			return nil, provider.NewConfigError("static VM entry %d is missing ip, user, or key_file", i)
		}
		port := e.SSHPort
		if port == 0 {
			port = 22
		}
		install := true
		if e.InstallPackages != nil {
			install = *e.InstallPackages
		}
		osFamily := provider.OSFamily(e.OSFamily)
		if osFamily == "" {
			osFamily = provider.Debian
		}
		p.specs = append(p.specs, &provider.VMSpec{
			Name:     fmt.Sprintf("static-%s", e.IP),
			Zone:     e.Zone,
			OSFamily: osFamily,
			Static: &provider.StaticVMDetails{
				IP:              e.IP,
				User:            e.User,
				KeyFile:         e.KeyFile,
				SSHPort:         port,
				InstallPackages: install,
			},
		})
	}
	return p, nil
}

// Get pops the next unused machine, or returns nil when the pool is dry
// and the caller should fall back to a cloud factory.
func (p *Pool) Get() (provider.VirtualMachine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.specs) == 0 {
		return nil, nil
	}
	spec := p.specs[0]
	p.specs = p.specs[1:]
	return New(spec)
}

func (p *Pool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.specs)
}

type vm struct {
	spec *provider.VMSpec
	tgt  *target.SSHTarget
}

// New builds a handle for a pre-existing machine from its spec. Used by the
// pool and by snapshot reconstruction.
func New(spec *provider.VMSpec) (provider.VirtualMachine, error) {
	if spec.Static == nil {
		return nil, fmt.Errorf("spec %s has no static details", spec.Name)
	}
	tgt, err := target.NewSSHTargetFromKeyFile(spec.Static.User, spec.Static.IP, spec.Static.SSHPort, spec.Static.KeyFile)
	if err != nil {
		return nil, err
	}
	return &vm{spec: spec, tgt: tgt}, nil
}

// Create verifies the machine answers; nothing is provisioned.
func (v *vm) Create() error {
	return v.tgt.WaitReachable(3, 5*time.Second)
}

// Delete is logical only. The machine stays up; the scratch state it
// accumulated is removed separately.
func (v *vm) Delete() error {
	return nil
}

func (v *vm) Exists() (bool, error) {
	_, err := v.tgt.RunCommand("true")
	return err == nil, nil
}

func (v *vm) WaitForBootCompletion() error {
	return v.tgt.WaitReachable(30, 10*time.Second)
}

func (v *vm) Startup() error {
	_, err := v.tgt.RunCommand(fmt.Sprintf("mkdir -p %s", InstallDir))
	return err
}

func (v *vm) AddMetadata(tags map[string]string) error {
	// No cloud to tag.
	return nil
}

func (v *vm) SetupLocalDisks() error {
	return nil
}

func (v *vm) CreateScratchDisk(spec *provider.DiskSpec) error {
	_, err := v.tgt.RunCommand(fmt.Sprintf("sudo mkdir -p %s && sudo chmod 777 %s", spec.MountPoint, spec.MountPoint))
	return err
}

func (v *vm) DeleteScratchDisks() error {
	for _, ds := range v.spec.DiskSpecs {
		if _, err := v.tgt.RunCommand(fmt.Sprintf("sudo rm -rf %s", ds.MountPoint)); err != nil {
			slog.Warn("failed to remove scratch dir on static VM",
				slog.String("vm", v.spec.Name), slog.String("mountPoint", ds.MountPoint), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (v *vm) RunCommand(cmd string) ([]byte, error) {
	return v.tgt.RunCommand(cmd)
}

func (v *vm) Spec() *provider.VMSpec {
	return v.spec
}

func (v *vm) IPAddress() string {
	return v.spec.Static.IP
}

func (v *vm) RemoteAccessPorts() []int {
	// Access is already open; there is no firewall to drive.
	return nil
}

func (v *vm) MaxLocalDisks() int {
	return 0
}

func (v *vm) InstallsPackages() bool {
	return v.spec.Static.InstallPackages
}

func (v *vm) PackageCleanup() error {
	_, err := v.tgt.RunCommand(fmt.Sprintf("rm -rf %s", InstallDir))
	return err
}
