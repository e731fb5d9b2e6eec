package sample

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// One performance measurement reported by a benchmark run.
type Sample struct {
	Metric    string            `json:"metric"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func New(metric string, value float64, unit string, metadata map[string]string) Sample {
	return Sample{
		Metric:    metric,
		Value:     value,
		Unit:      unit,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}
}

// Collector buffers samples from concurrently running benchmarks. The
// publishing pipeline consumes its output; this side only annotates and
// stores.
type Collector struct {
	mu      sync.Mutex
	samples []Sample
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) AddSamples(samples []Sample, benchmarkName, runURI string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range samples {
		if s.Metadata == nil {
			s.Metadata = map[string]string{}
		}
		s.Metadata["benchmark"] = benchmarkName
		s.Metadata["run_uri"] = runURI
		if s.Timestamp.IsZero() {
			s.Timestamp = time.Now()
		}
		c.samples = append(c.samples, s)
	}
}

func (c *Collector) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sample, len(c.samples))
	copy(out, c.samples)
	return out
}

// WriteReport dumps every collected sample as JSON, one report per run.
func (c *Collector) WriteReport(path string) error {
	buf, err := json.MarshalIndent(c.Samples(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling samples: %w", err)
	}
	return os.WriteFile(path, buf, 0o644)
}
