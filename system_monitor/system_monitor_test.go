package systemmonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const procStat = `cpu  100 0 50 800 50 0 0 0 0 0
cpu0 50 0 25 400 25 0 0 0 0 0
intr 12345
`

const procStatLater = `cpu  180 0 70 850 100 0 0 0 0 0
cpu0 90 0 35 425 50 0 0 0 0 0
`

const procMeminfo = `MemTotal:       16000000 kB
MemFree:         2000000 kB
MemAvailable:    4000000 kB
Buffers:          500000 kB
Cached:          1500000 kB
`

func TestParseCPUTimeStat(t *testing.T) {
	stat := parseCPUTimeStat([]byte(procStat))
	require.NotNil(t, stat)
	assert.Equal(t, 100, stat.user)
	assert.Equal(t, 800, stat.idle)
	assert.Equal(t, 1000, stat.totalCPUTime())

	assert.Nil(t, parseCPUTimeStat([]byte("intr 12345\n")))
}

func TestBusyPct(t *testing.T) {
	prev := parseCPUTimeStat([]byte(procStat))
	cur := parseCPUTimeStat([]byte(procStatLater))
	require.NotNil(t, prev)
	require.NotNil(t, cur)

	// 200 ticks elapsed, 100 of them idle+iowait.
	pct, ok := busyPct(prev, cur)
	require.True(t, ok)
	assert.InDelta(t, 50.0, pct, 0.01)

	_, ok = busyPct(prev, prev)
	assert.False(t, ok)
}

func TestParseMemUsedPct(t *testing.T) {
	pct, ok := parseMemUsedPct([]byte(procMeminfo))
	require.True(t, ok)
	assert.InDelta(t, 75.0, pct, 0.01)

	_, ok = parseMemUsedPct([]byte("garbage"))
	assert.False(t, ok)
}
