package timing

import (
	"fmt"
	"time"

	"github.com/Sheefali07/PerfKitBenchmarker/sample"
)

type Interval struct {
	Name  string
	Start time.Time
	Stop  time.Time
}

func (i Interval) Duration() time.Duration {
	return i.Stop.Sub(i.Start)
}

// IntervalTimer measures named phases of a benchmark's lifecycle. Not safe
// for concurrent use; each benchmark execution owns its own timer.
type IntervalTimer struct {
	Intervals []Interval
}

// Measure runs f and records how long it took, whether or not it failed.
func (t *IntervalTimer) Measure(name string, f func() error) error {
	start := time.Now()
	err := f()
	t.Intervals = append(t.Intervals, Interval{Name: name, Start: start, Stop: time.Now()})
	return err
}

// GenerateSamples converts the recorded intervals into samples. Runtime
// samples carry seconds; timestamp samples carry the interval boundaries.
func (t *IntervalTimer) GenerateSamples(includeRuntimes, includeTimestamps bool) []sample.Sample {
	var samples []sample.Sample
	for _, iv := range t.Intervals {
		if includeRuntimes {
			samples = append(samples, sample.New(
				fmt.Sprintf("%s Runtime", iv.Name), iv.Duration().Seconds(), "seconds", nil))
		}
		if includeTimestamps {
			samples = append(samples, sample.New(
				fmt.Sprintf("%s Start Timestamp", iv.Name), float64(iv.Start.UnixNano())/1e9, "seconds", nil))
			samples = append(samples, sample.New(
				fmt.Sprintf("%s Stop Timestamp", iv.Name), float64(iv.Stop.UnixNano())/1e9, "seconds", nil))
		}
	}
	return samples
}
