package systemmonitor

import (
	"strconv"
	"strings"
)

// parseMemUsedPct reads /proc/meminfo and reports used memory as a
// percentage of total, counting reclaimable caches as available.
func parseMemUsedPct(buf []byte) (float64, bool) {
	total := 0
	available := 0
	for _, line := range strings.Split(string(buf), "\n") {
		parts := strings.Fields(line)
		if len(parts) != 3 {
			continue
		}
		value, _ := strconv.Atoi(parts[1])
		bytes := value * 1024
		switch key := parts[0][:len(parts[0])-1]; key {
		case "MemTotal":
			total = bytes
		case "MemAvailable":
			available = bytes
		}
	}
	if total == 0 {
		return 0, false
	}
	return 100 * float64(total-available) / float64(total), true
}
