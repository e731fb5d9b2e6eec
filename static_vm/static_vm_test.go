package staticvm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sheefali07/PerfKitBenchmarker/provider"
)

func TestReadPool(t *testing.T) {
	pool, err := ReadPool(strings.NewReader(`[
		{"ip": "203.0.113.5", "user": "perfkit", "key_file": "/home/perfkit/.ssh/id_ed25519"},
		{"ip": "203.0.113.6", "user": "perfkit", "key_file": "/home/perfkit/.ssh/id_ed25519",
		 "ssh_port": 2222, "zone": "rack1", "os_family": "rhel", "install_packages": false}
	]`))
	require.NoError(t, err)
	require.Equal(t, 2, pool.Remaining())

	first := pool.specs[0]
	assert.Equal(t, "static-203.0.113.5", first.Name)
	assert.Equal(t, provider.Debian, first.OSFamily)
	assert.Equal(t, 22, first.Static.SSHPort)
	assert.True(t, first.Static.InstallPackages)

	second := pool.specs[1]
	assert.Equal(t, "rack1", second.Zone)
	assert.Equal(t, provider.Rhel, second.OSFamily)
	assert.Equal(t, 2222, second.Static.SSHPort)
	assert.False(t, second.Static.InstallPackages)
}

func TestReadPoolRejectsIncompleteEntries(t *testing.T) {
	for name, body := range map[string]string{
		"not json":    "nope",
		"missing ip":  `[{"user": "perfkit", "key_file": "/k"}]`,
		"missing key": `[{"ip": "203.0.113.5", "user": "perfkit"}]`,
	} {
		_, err := ReadPool(strings.NewReader(body))
		require.Error(t, err, "case %q", name)
		assert.True(t, provider.IsConfigError(err), "case %q", name)
	}
}

func TestGetDrainsInFileOrder(t *testing.T) {
	pool := &Pool{specs: []*provider.VMSpec{
		{Name: "static-a", Static: &provider.StaticVMDetails{IP: "a", User: "u", KeyFile: "/missing"}},
	}}

	// The only entry points at a missing key file, so Get surfaces that.
	_, err := pool.Get()
	require.Error(t, err)
	assert.Equal(t, 0, pool.Remaining())

	// A dry pool reports nil, nil: the caller falls back to a cloud factory.
	vm, err := pool.Get()
	require.NoError(t, err)
	assert.Nil(t, vm)
}
