package iperf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sheefali07/PerfKitBenchmarker/benchmark"
)

func TestFactoryDecodesInput(t *testing.T) {
	b, err := benchmark.New("iperf", map[string]any{
		"SendingThreadCount": 4,
		"RuntimeSeconds":     30,
	})
	require.NoError(t, err)

	input := b.(*bmark).input
	assert.Equal(t, 4, input.SendingThreadCount)
	assert.Equal(t, 30, input.RuntimeSeconds)
}

func TestFactoryAppliesDefaults(t *testing.T) {
	b, err := benchmark.New("iperf", map[string]any{})
	require.NoError(t, err)

	input := b.(*bmark).input
	assert.Equal(t, 1, input.SendingThreadCount)
	assert.Equal(t, 60, input.RuntimeSeconds)
}

func TestFactoryRejectsMistypedInput(t *testing.T) {
	_, err := benchmark.New("iperf", map[string]any{
		"SendingThreadCount": "four",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iperf input")
}

func TestParseThroughput(t *testing.T) {
	out := `------------------------------------------------------------
Client connecting to 10.0.0.2, TCP port 5001
------------------------------------------------------------
[  3] local 10.0.0.1 port 49152 connected with 10.0.0.2 port 5001
[ ID] Interval       Transfer     Bandwidth
[  3]  0.0-60.0 sec  6543 MBytes  914 Mbits/sec
`
	mbits, err := parseThroughput([]byte(out))
	require.NoError(t, err)
	assert.InDelta(t, 914.0, mbits, 0.01)
}

func TestParseThroughputScalesGbits(t *testing.T) {
	out := "[SUM]  0.0-60.0 sec  70.1 GBytes  9.8 Gbits/sec\n"
	mbits, err := parseThroughput([]byte(out))
	require.NoError(t, err)
	assert.InDelta(t, 9800.0, mbits, 0.01)
}

func TestParseThroughputRejectsGarbage(t *testing.T) {
	_, err := parseThroughput([]byte("connect failed: Connection refused\n"))
	require.Error(t, err)
}
