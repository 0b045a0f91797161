// Package metrics collects per-second performance samples and keeps a
// bounded in-memory window for the status surfaces. Persistence (JSONL
// and the SQLite index) hangs off the collector as optional sinks.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// windowCap bounds the in-memory history to five minutes at 1 Hz.
const windowCap = 300

// Sample is one 1 Hz performance observation.
type Sample struct {
	TS           int64          `json:"ts"` // unix millis
	Tps          float64        `json:"tps"`
	Mspt         float64        `json:"mspt"`
	LoadedChunks int            `json:"loaded_chunks"`
	HotRegions   int            `json:"hot_regions"`
	Agents       int            `json:"agents"`
	WorldChunks  map[string]int `json:"world_chunks,omitempty"`
}

// Sink receives every recorded sample. Sinks must not block the caller
// for long; the SQLite index drops on backpressure, the JSONL writer is
// a buffered local file.
type Sink interface {
	WriteSample(Sample) error
}

type Collector struct {
	mu      sync.Mutex
	samples []Sample
	sinks   []Sink

	current atomic.Pointer[Sample]
}

func NewCollector(sinks ...Sink) *Collector {
	c := &Collector{samples: make([]Sample, 0, windowCap)}
	for _, s := range sinks {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
	return c
}

// Record appends a sample, evicting the oldest past the window cap, and
// forwards it to the sinks. Sink errors are swallowed; the in-memory
// window is the primary consumer.
func (c *Collector) Record(s Sample) {
	if s.TS == 0 {
		s.TS = time.Now().UnixMilli()
	}

	c.mu.Lock()
	c.samples = append(c.samples, s)
	if len(c.samples) > windowCap {
		c.samples = c.samples[len(c.samples)-windowCap:]
	}
	sinks := c.sinks
	c.mu.Unlock()

	c.current.Store(&s)

	for _, sink := range sinks {
		_ = sink.WriteSample(s)
	}
}

// Current returns the most recent sample, or a zero sample before the
// first record.
func (c *Collector) Current() Sample {
	if p := c.current.Load(); p != nil {
		return *p
	}
	return Sample{}
}

// Window returns the samples recorded within the last `seconds` seconds.
// seconds <= 0 returns the whole retained window.
func (c *Collector) Window(seconds int) []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seconds <= 0 {
		out := make([]Sample, len(c.samples))
		copy(out, c.samples)
		return out
	}

	cutoff := time.Now().Add(-time.Duration(seconds) * time.Second).UnixMilli()
	start := len(c.samples)
	for i := len(c.samples) - 1; i >= 0; i-- {
		if c.samples[i].TS < cutoff {
			break
		}
		start = i
	}
	out := make([]Sample, len(c.samples)-start)
	copy(out, c.samples[start:])
	return out
}

// Stats summarizes a window of samples.
type Stats struct {
	Samples int     `json:"samples"`
	AvgTps  float64 `json:"avg_tps"`
	MinTps  float64 `json:"min_tps"`
	AvgMspt float64 `json:"avg_mspt"`
	MaxMspt float64 `json:"max_mspt"`
}

// WindowStats aggregates the samples of the last `seconds` seconds.
func (c *Collector) WindowStats(seconds int) Stats {
	return Summarize(c.Window(seconds))
}

func Summarize(samples []Sample) Stats {
	st := Stats{Samples: len(samples)}
	if st.Samples == 0 {
		return st
	}
	st.MinTps = samples[0].Tps
	st.MaxMspt = samples[0].Mspt
	var sumTps, sumMspt float64
	for _, s := range samples {
		sumTps += s.Tps
		sumMspt += s.Mspt
		if s.Tps < st.MinTps {
			st.MinTps = s.Tps
		}
		if s.Mspt > st.MaxMspt {
			st.MaxMspt = s.Mspt
		}
	}
	st.AvgTps = sumTps / float64(st.Samples)
	st.AvgMspt = sumMspt / float64(st.Samples)
	return st
}
