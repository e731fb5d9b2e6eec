package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoriesForUnknownCloud(t *testing.T) {
	_, err := VMFactoryFor(Cloud("NopeCloud"), Debian)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	_, err = NetworkFactoryFor(Cloud("NopeCloud"))
	require.Error(t, err)

	_, err = FirewallFactoryFor(Cloud("NopeCloud"))
	require.Error(t, err)
}

func TestRegisteredFactoriesAreReturned(t *testing.T) {
	cloud := Cloud("TestCloud")
	Register(cloud, &Registration{
		VMs: map[OSFamily]VMFactory{
			Debian: func(spec *VMSpec) (VirtualMachine, error) { return nil, nil },
		},
		Network:  func(project, zone string) Network { return nil },
		Firewall: func(project string) Firewall { return nil },
	})

	_, err := VMFactoryFor(cloud, Debian)
	require.NoError(t, err)

	// Registered cloud, unsupported OS.
	_, err = VMFactoryFor(cloud, Windows)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestConfigErrorWrapping(t *testing.T) {
	err := NewConfigError("zone %q is invalid", "nowhere-1x")
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "nowhere-1x")

	wrapped := fmt.Errorf("building spec: %w", err)
	assert.True(t, IsConfigError(wrapped))

	assert.False(t, IsConfigError(errors.New("transient API failure")))
}

func TestDefaultsFor(t *testing.T) {
	d, err := DefaultsFor(GCP)
	require.NoError(t, err)
	assert.NotEmpty(t, d.Zone)
	assert.NotEmpty(t, d.ImageFor(Debian))
	assert.NotEmpty(t, d.ImageFor(Windows))

	// AWS images are region-scoped; there is no default.
	d, err = DefaultsFor(AWS)
	require.NoError(t, err)
	assert.Empty(t, d.ImageFor(Debian))

	_, err = DefaultsFor(Cloud("NopeCloud"))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}
