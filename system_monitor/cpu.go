package systemmonitor

import (
	"strconv"
	"strings"
)

type cpuTimeStat struct {
	user      int
	system    int
	idle      int
	nice      int
	iowait    int
	irq       int
	softIrq   int
	steal     int
	guest     int
	guestNice int
}

func (ts *cpuTimeStat) totalCPUTime() int {
	return ts.user + ts.system + ts.nice + ts.iowait + ts.irq + ts.softIrq + ts.steal + ts.idle
}

// parseCPUTimeStat reads the aggregate cpu line of /proc/stat, ignoring the
// per-core lines.
func parseCPUTimeStat(buf []byte) *cpuTimeStat {
	for _, line := range strings.Split(string(buf), "\n") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 11 {
			return nil
		}
		user, _ := strconv.Atoi(parts[1])
		nice, _ := strconv.Atoi(parts[2])
		system, _ := strconv.Atoi(parts[3])
		idle, _ := strconv.Atoi(parts[4])
		iowait, _ := strconv.Atoi(parts[5])
		irq, _ := strconv.Atoi(parts[6])
		softIrq, _ := strconv.Atoi(parts[7])
		steal, _ := strconv.Atoi(parts[8])
		guest, _ := strconv.Atoi(parts[9])
		guestNice, _ := strconv.Atoi(parts[10])
		return &cpuTimeStat{
			user:      user,
			nice:      nice,
			system:    system,
			idle:      idle,
			iowait:    iowait,
			irq:       irq,
			softIrq:   softIrq,
			steal:     steal,
			guest:     guest,
			guestNice: guestNice,
		}
	}
	return nil
}

// busyPct computes the share of non-idle time between two readings.
func busyPct(prev, cur *cpuTimeStat) (float64, bool) {
	totalDelta := cur.totalCPUTime() - prev.totalCPUTime()
	if totalDelta <= 0 {
		return 0, false
	}
	idleDelta := (cur.idle + cur.iowait) - (prev.idle + prev.iowait)
	return 100 * float64(totalDelta-idleDelta) / float64(totalDelta), true
}
