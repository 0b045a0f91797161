package control

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// PID gains. Proportional dominant; integral and derivative stay small to
// avoid oscillation. Fixed constants, not tunables.
const (
	kp = 0.1
	ki = 0.01
	kd = 0.05

	maxSamples      = 20
	minEvalInterval = 2 * time.Second
)

// Hard bounds on the emitted adjustments.
const (
	maxViewDistanceDelta    = 3
	maxChunkBudgetDelta     = 10
	maxRandomTickRatioDelta = 0.5
)

// Sample is one performance observation. Immutable once recorded.
type Sample struct {
	At           time.Time
	Mspt         float64
	Tps          float64
	HotRegions   int
	LoadedChunks int
}

// Output is the controller's adjustment signal. Published atomically:
// readers see a whole previous or whole current value, never a mix.
type Output struct {
	ViewDistanceDelta    int
	ChunkBudgetDelta     int
	RandomTickRatioDelta float64
	AggressiveUnload     bool
}

func (o Output) String() string {
	return fmt.Sprintf("Output{viewDist=%+d chunkBudget=%+d randomTick=%+.2f aggressiveUnload=%v}",
		o.ViewDistanceDelta, o.ChunkBudgetDelta, o.RandomTickRatioDelta, o.AggressiveUnload)
}

// Stats summarizes the retained sample window.
type Stats struct {
	Samples int
	AvgMspt float64
	AvgTps  float64
	MinMspt float64
	MaxMspt float64
	MinTps  float64
	MaxTps  float64
}

// System is a bounded-memory discrete-time feedback controller over the
// two performance signals. Single writer (Update); any number of
// concurrent readers via Output.
type System struct {
	targetMspt float64
	minTps     float64

	now func() time.Time

	mu       sync.Mutex
	samples  []Sample
	lastEval time.Time

	out atomic.Pointer[Output]
}

func New(targetMspt, minTps float64) *System {
	s := &System{
		targetMspt: targetMspt,
		minTps:     minTps,
		now:        time.Now,
	}
	s.out.Store(&Output{})
	return s
}

// error signal for one sample: the worse of the two normalized dimensions.
// Either one degrading is enough to trigger correction; both must be
// healthy for the signal to go negative.
func (s *System) sampleError(sm Sample) float64 {
	msptErr := (sm.Mspt - s.targetMspt) / s.targetMspt
	tpsErr := (s.minTps - sm.Tps) / s.minTps
	if msptErr > tpsErr {
		return msptErr
	}
	return tpsErr
}

// Update ingests a performance observation and recomputes the output.
// Calls within the minimum evaluation interval are no-ops.
func (s *System) Update(mspt, tps float64, hotRegions, loadedChunks int) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastEval.IsZero() && now.Sub(s.lastEval) < minEvalInterval {
		return
	}
	s.lastEval = now

	s.samples = append(s.samples, Sample{
		At:           now,
		Mspt:         mspt,
		Tps:          tps,
		HotRegions:   hotRegions,
		LoadedChunks: loadedChunks,
	})
	if len(s.samples) > maxSamples {
		s.samples = s.samples[len(s.samples)-maxSamples:]
	}

	out := s.evaluate(mspt, tps)
	s.out.Store(&out)
}

func (s *System) evaluate(mspt, tps float64) Output {
	latest := s.samples[len(s.samples)-1]
	proportional := s.sampleError(latest)
	integral := s.integral()
	derivative := s.derivative()

	pid := kp*proportional + ki*integral + kd*derivative
	pid = clampFloat(pid, -1, 1)

	var out Output
	switch {
	case pid > 0.3:
		out.ViewDistanceDelta = -1
		out.ChunkBudgetDelta = -2
		out.RandomTickRatioDelta = -0.1
		if pid > 0.6 {
			out.ViewDistanceDelta = -2
			out.ChunkBudgetDelta = -4
			out.RandomTickRatioDelta = -0.2
			out.AggressiveUnload = true
		}
	case pid < -0.3:
		out.ViewDistanceDelta = 1
		out.ChunkBudgetDelta = 2
		out.RandomTickRatioDelta = 0.1
		if pid < -0.6 {
			out.ViewDistanceDelta = 2
			out.ChunkBudgetDelta = 4
			out.RandomTickRatioDelta = 0.2
		}
	}
	// dead zone between -0.3 and 0.3 keeps the output quiet near target

	// Emergency floors bypass the smooth path entirely.
	if mspt > s.targetMspt*1.5 || tps < s.minTps*0.8 {
		out.ViewDistanceDelta = minInt(out.ViewDistanceDelta, -2)
		out.ChunkBudgetDelta = minInt(out.ChunkBudgetDelta, -6)
		out.AggressiveUnload = true
	}

	out.ViewDistanceDelta = clampInt(out.ViewDistanceDelta, -maxViewDistanceDelta, maxViewDistanceDelta)
	out.ChunkBudgetDelta = clampInt(out.ChunkBudgetDelta, -maxChunkBudgetDelta, maxChunkBudgetDelta)
	out.RandomTickRatioDelta = clampFloat(out.RandomTickRatioDelta, -maxRandomTickRatioDelta, maxRandomTickRatioDelta)
	return out
}

// integral is the time-weighted error accumulated across the window.
// Weighting by each pair's real interval keeps uneven sampling honest;
// the later sample of each pair supplies the error. Caller holds s.mu.
func (s *System) integral() float64 {
	if len(s.samples) < 2 {
		return 0
	}
	sum := 0.0
	for i := 1; i < len(s.samples); i++ {
		dt := s.samples[i].At.Sub(s.samples[i-1].At).Seconds()
		sum += s.sampleError(s.samples[i]) * dt
	}
	return sum
}

// derivative is the error slope across the two most recent samples.
// Caller holds s.mu.
func (s *System) derivative() float64 {
	n := len(s.samples)
	if n < 2 {
		return 0
	}
	dt := s.samples[n-1].At.Sub(s.samples[n-2].At).Seconds()
	if dt <= 0 {
		return 0
	}
	return (s.sampleError(s.samples[n-1]) - s.sampleError(s.samples[n-2])) / dt
}

// Output returns the current control output snapshot.
func (s *System) Output() Output {
	return *s.out.Load()
}

// Stats summarizes samples no older than the window. A zero window covers
// every retained sample.
func (s *System) Stats(window time.Duration) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Time{}
	if window > 0 {
		cutoff = s.now().Add(-window)
	}

	var st Stats
	for _, sm := range s.samples {
		if sm.At.Before(cutoff) {
			continue
		}
		if st.Samples == 0 {
			st.MinMspt, st.MaxMspt = sm.Mspt, sm.Mspt
			st.MinTps, st.MaxTps = sm.Tps, sm.Tps
		} else {
			if sm.Mspt < st.MinMspt {
				st.MinMspt = sm.Mspt
			}
			if sm.Mspt > st.MaxMspt {
				st.MaxMspt = sm.Mspt
			}
			if sm.Tps < st.MinTps {
				st.MinTps = sm.Tps
			}
			if sm.Tps > st.MaxTps {
				st.MaxTps = sm.Tps
			}
		}
		st.AvgMspt += sm.Mspt
		st.AvgTps += sm.Tps
		st.Samples++
	}
	if st.Samples > 0 {
		st.AvgMspt /= float64(st.Samples)
		st.AvgTps /= float64(st.Samples)
	}
	return st
}

// Reset clears the window and returns the output to neutral. Configured
// targets are untouched. Safe to call repeatedly.
func (s *System) Reset() {
	s.mu.Lock()
	s.samples = nil
	s.lastEval = time.Time{}
	s.mu.Unlock()
	s.out.Store(&Output{})
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
