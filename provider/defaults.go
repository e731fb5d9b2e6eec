package provider

// Per-provider fallback values used when a run does not override them.
// An empty image means the provider has no usable default and the run must
// supply one explicitly.
type Defaults struct {
	Image        string
	WindowsImage string
	MachineType  string
	Zone         string
}

var defaults = map[Cloud]*Defaults{
	GCP: {
		Image:        "ubuntu-2204-jammy-v20240614",
		WindowsImage: "windows-server-2022-dc-v20240612",
		MachineType:  "n2-standard-2",
		Zone:         "us-central1-a",
	},
	Azure: {
		Image:        "Canonical:0001-com-ubuntu-server-jammy:22_04-lts-gen2:latest",
		WindowsImage: "MicrosoftWindowsServer:WindowsServer:2022-datacenter-g2:latest",
		MachineType:  "Standard_D2s_v5",
		Zone:         "eastus",
	},
	AWS: {
		// AWS images are region-scoped, so there is no safe default AMI.
		Image:        "",
		WindowsImage: "",
		MachineType:  "m6i.large",
		Zone:         "us-east-1a",
	},
	DigitalOcean: {
		Image:       "ubuntu-22-04-x64",
		MachineType: "s-2vcpu-4gb",
		Zone:        "sfo3",
	},
}

func DefaultsFor(cloud Cloud) (*Defaults, error) {
	d, ok := defaults[cloud]
	if !ok {
		return nil, NewConfigError("unknown cloud %q", cloud)
	}
	return d, nil
}

// The default image for the given OS family, or "" when the provider has
// none.
func (d *Defaults) ImageFor(osFamily OSFamily) string {
	if osFamily == Windows {
		return d.WindowsImage
	}
	return d.Image
}
