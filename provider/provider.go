package provider

// A provider-agnostic handle for one virtual machine. Implementations make
// the cloud API calls; callers treat every cloud uniformly. A handle is
// allocated without touching the cloud; Create is the first cloud call.
type VirtualMachine interface {
	Create() error

	Delete() error

	Exists() (bool, error)

	// Blocks until the machine accepts remote commands.
	WaitForBootCompletion() error

	// Provider-specific hooks that must run once after boot.
	Startup() error

	AddMetadata(tags map[string]string) error

	SetupLocalDisks() error

	CreateScratchDisk(spec *DiskSpec) error

	DeleteScratchDisks() error

	// Runs the command on the machine and returns the combined output.
	RunCommand(cmd string) ([]byte, error)

	// The data record this handle was built from. Callers may append disk
	// specs to it before Create.
	Spec() *VMSpec

	IPAddress() string

	// Ports that must be opened in the firewall for remote access
	// (remote shell, remote management, file sharing).
	RemoteAccessPorts() []int

	MaxLocalDisks() int
}

// Implemented by pre-existing machines not managed by any cloud provider.
// For these, Delete is logical only.
type StaticMachine interface {
	InstallsPackages() bool

	// Returns the machine to its pre-benchmark package state.
	PackageCleanup() error
}

type Network interface {
	Create() error

	Delete() error

	Exists() (bool, error)

	Zone() string
}

type Firewall interface {
	AllowPort(vm VirtualMachine, port int) error

	// Revokes every rule this firewall created. Called once during teardown.
	DisallowAllPorts() error
}

// VMSpec is the plain data record a VirtualMachine handle is built from.
// It carries everything needed to reconstruct an equivalent handle in a
// later process invocation.
type VMSpec struct {
	Name        string           `json:"name"`
	Cloud       Cloud            `json:"cloud"`
	OSFamily    OSFamily         `json:"os_family"`
	Project     string           `json:"project"`
	Zone        string           `json:"zone"`
	MachineType string           `json:"machine_type"`
	Image       string           `json:"image"`
	DiskSpecs   []DiskSpec       `json:"disk_specs,omitempty"`
	Static      *StaticVMDetails `json:"static,omitempty"`
}

// StaticVMDetails is present on specs describing operator-supplied
// machines. These carry their own connection details because no cloud API
// can describe them.
type StaticVMDetails struct {
	IP              string `json:"ip"`
	User            string `json:"user"`
	KeyFile         string `json:"key_file"`
	SSHPort         int    `json:"ssh_port,omitempty"`
	InstallPackages bool   `json:"install_packages,omitempty"`
}
