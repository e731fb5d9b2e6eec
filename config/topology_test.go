package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sheefali07/PerfKitBenchmarker/provider"
)

const validTopology = `
cloud: GCP
project: my-project
groups:
  servers:
    vm_type: n2-standard-8
    image: ubuntu-2204-jammy-v20240614
    zone: us-central1-a
    count: 2
    disk_specs:
      - 500:ssd:/scratch0
  clients:
    vm_type: n2-standard-2
    image: ubuntu-2204-jammy-v20240614
    count: 1
`

func TestParseTopology(t *testing.T) {
	topo, err := Parse([]byte(validTopology))
	require.NoError(t, err)

	assert.Equal(t, "GCP", topo.Cloud)
	assert.Equal(t, "my-project", topo.Project)
	require.Len(t, topo.Groups, 2)

	servers := topo.Groups["servers"]
	assert.Equal(t, "n2-standard-8", servers.VMType)
	assert.Equal(t, 2, servers.Count)
	assert.Equal(t, []string{"500:ssd:/scratch0"}, servers.DiskSpecs)

	// Zone is optional per group; the provider default fills it in later.
	assert.Empty(t, topo.Groups["clients"].Zone)
}

func TestParseTopologyRejectsBadInput(t *testing.T) {
	for name, body := range map[string]string{
		"not yaml":      "{{{",
		"no cloud":      "groups:\n  g:\n    vm_type: a\n    image: b\n    count: 1\n",
		"no groups":     "cloud: GCP\n",
		"zero count":    "cloud: GCP\ngroups:\n  g:\n    vm_type: a\n    image: b\n    count: 0\n",
		"no vm_type":    "cloud: GCP\ngroups:\n  g:\n    image: b\n    count: 1\n",
		"no image":      "cloud: GCP\ngroups:\n  g:\n    vm_type: a\n    count: 1\n",
		"bad disk spec": "cloud: GCP\ngroups:\n  g:\n    vm_type: a\n    image: b\n    count: 1\n    disk_specs: [\"500:tape:/s\"]\n",
	} {
		_, err := Parse([]byte(body))
		require.Error(t, err, "case %q", name)
		assert.True(t, provider.IsConfigError(err), "case %q", name)
	}
}
