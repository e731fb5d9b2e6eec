// Package aws registers the AWS provider: EC2-backed VM handles, one
// VPC-per-zone networks, and a security-group firewall.
package aws

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"golang.org/x/crypto/ssh"

	"github.com/Sheefali07/PerfKitBenchmarker/provider"
)

func init() {
	provider.Register(provider.AWS, &provider.Registration{
		VMs: map[provider.OSFamily]provider.VMFactory{
			provider.Debian: newVirtualMachine,
			provider.Rhel:   newVirtualMachine,
		},
		Network:  newNetwork,
		Firewall: newFirewall,
	})
}

// OS-specific behavior is composed onto the VM as a capability value
// instead of being baked into VM subtypes.
type osCapability struct {
	user            string
	startupCommands []string
}

var osCapabilities = map[provider.OSFamily]osCapability{
	provider.Debian: {
		user: "ubuntu",
		// Unattended upgrades steal CPU and disk from benchmarks.
		startupCommands: []string{
			"sudo systemctl stop unattended-upgrades.service 2>/dev/null || true",
		},
	},
	provider.Rhel: {
		user: "ec2-user",
	},
}

// zoneRegion strips the trailing zone letter: us-east-1a -> us-east-1.
func zoneRegion(zone string) string {
	if zone == "" {
		return ""
	}
	last := zone[len(zone)-1]
	if last >= 'a' && last <= 'z' {
		return zone[:len(zone)-1]
	}
	return zone
}

var (
	clientsMu sync.Mutex
	clients   = map[string]*ec2.Client{}
	baseCfg   *aws.Config
)

func client(region string) (*ec2.Client, error) {
	clientsMu.Lock()
	defer clientsMu.Unlock()
	if c, ok := clients[region]; ok {
		return c, nil
	}
	if baseCfg == nil {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		baseCfg = &cfg
	}
	c := ec2.NewFromConfig(*baseCfg, func(o *ec2.Options) {
		o.Region = region
	})
	clients[region] = c
	return c, nil
}

// keyRegistry tracks which regions already have our SSH key imported.
// Check-and-import runs under one lock so two VMs booting concurrently in
// the same region never race to create the key.
type keyRegistry struct {
	mu       sync.Mutex
	imported map[string]bool
}

var keys = &keyRegistry{imported: map[string]bool{}}

func keyName(region string) string {
	return "perfkitbenchmarker-" + region
}

func keyPath(region string) string {
	return path.Join(os.TempDir(), "perfkitbenchmarker", "keys", region+".pem")
}

// ensure imports the per-region key pair, generating and saving the
// private key on first use. The key file outlives the process so resumed
// stages can still reach their VMs.
func (r *keyRegistry) ensure(region string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.imported[region] {
		return nil
	}

	pemPath := keyPath(region)
	var signer ssh.Signer
	if buf, err := os.ReadFile(pemPath); err == nil {
		signer, err = ssh.ParsePrivateKey(buf)
		if err != nil {
			return fmt.Errorf("parsing saved key %s: %w", pemPath, err)
		}
	} else {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}
		block, err := ssh.MarshalPrivateKey(priv, "perfkitbenchmarker")
		if err != nil {
			return fmt.Errorf("marshaling private key: %w", err)
		}
		if err := os.MkdirAll(path.Dir(pemPath), 0o700); err != nil {
			return fmt.Errorf("creating key dir: %w", err)
		}
		if err := os.WriteFile(pemPath, pem.EncodeToMemory(block), 0o600); err != nil {
			return fmt.Errorf("saving private key: %w", err)
		}
		signer, err = ssh.NewSignerFromKey(priv)
		if err != nil {
			return fmt.Errorf("building signer: %w", err)
		}
	}

	c, err := client(region)
	if err != nil {
		return err
	}
	pubKey := ssh.MarshalAuthorizedKey(signer.PublicKey())
	_, err = c.ImportKeyPair(context.Background(), &ec2.ImportKeyPairInput{
		KeyName:           aws.String(keyName(region)),
		PublicKeyMaterial: pubKey,
	})
	if err != nil && !strings.Contains(err.Error(), "InvalidKeyPair.Duplicate") {
		return fmt.Errorf("importing key pair into %s: %w", region, err)
	}
	r.imported[region] = true
	return nil
}

func regionSigner(region string) (ssh.Signer, error) {
	buf, err := os.ReadFile(keyPath(region))
	if err != nil {
		return nil, fmt.Errorf("reading key for region %s: %w", region, err)
	}
	return ssh.ParsePrivateKey(buf)
}
