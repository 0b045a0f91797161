package policy

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/suegt/dynregionperf/internal/sim/budget"
	"github.com/suegt/dynregionperf/internal/sim/capability"
	"github.com/suegt/dynregionperf/internal/sim/cluster"
	"github.com/suegt/dynregionperf/internal/sim/tuning"
)

// Temperature classifies where an agent stands relative to hot regions.
type Temperature int

const (
	Cold Temperature = iota
	Normal
	Hot
)

func (t Temperature) String() string {
	switch t {
	case Hot:
		return "hot"
	case Normal:
		return "normal"
	default:
		return "cold"
	}
}

const (
	minViewDistance     = 2
	maxViewDistance     = 32
	defaultViewDistance = 8

	boostTTL = 5 * time.Minute

	// multiplier update cadence and bounds
	multiplierInterval = 5 * time.Second
	multiplierFloor    = 0.7
)

// ViewSetter pushes a chosen view distance to the host. Failures are the
// host's problem; the adapter keeps its bookkeeping either way and the
// next update retries.
type ViewSetter interface {
	SetViewDistance(agentID string, chunks int) error
}

type boost struct {
	distance int
	expires  time.Time
}

// ViewDistances maps region temperature to a per-agent view distance,
// scaled by a slow-moving performance multiplier. It is a thin consumer of
// the clustering output: table lookups plus stale-key cleanup.
type ViewDistances struct {
	grid   *cluster.Grid
	cfg    tuning.ViewDistance
	caps   capability.Set
	setter ViewSetter
	rng    *rand.Rand

	now func() time.Time

	mu             sync.Mutex
	current        map[string]int
	boosts         map[string]boost
	multiplier     float64
	lastMultiplier time.Time
}

func NewViewDistances(grid *cluster.Grid, cfg tuning.ViewDistance, caps capability.Set, setter ViewSetter) *ViewDistances {
	return &ViewDistances{
		grid:       grid,
		cfg:        cfg,
		caps:       caps,
		setter:     setter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
		current:    map[string]int{},
		boosts:     map[string]boost{},
		multiplier: 1.0,
	}
}

// Update recomputes every agent's view distance from the current region
// set and drops state for agents no longer present.
func (v *ViewDistances) Update(agents []budget.Agent, regions []*cluster.HotRegion) {
	if !v.caps.ViewDistanceControl {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	live := make(map[string]bool, len(agents))
	now := v.now()
	for _, a := range agents {
		live[a.ID] = true

		if b, ok := v.boosts[a.ID]; ok {
			if now.Before(b.expires) {
				v.applyLocked(a.ID, b.distance)
				continue
			}
			delete(v.boosts, a.ID)
		}

		target := v.rangeFor(v.temperature(a.Pos, regions)).pick(v.rng)
		target = int(float64(target) * v.multiplier)
		target = clamp(target, minViewDistance, maxViewDistance)
		v.applyLocked(a.ID, target)
	}

	for id := range v.current {
		if !live[id] {
			delete(v.current, id)
			delete(v.boosts, id)
		}
	}
}

// applyLocked pushes only on change, so a stable classification does not
// spam the host.
func (v *ViewDistances) applyLocked(id string, target int) {
	if cur, ok := v.current[id]; ok && cur == target {
		return
	}
	if err := v.setter.SetViewDistance(id, target); err != nil {
		return // retried next update
	}
	v.current[id] = target
}

// temperature: inside a region's box is hot; within two grid cells of a
// region center is normal; everything else cold.
func (v *ViewDistances) temperature(pos cluster.Position, regions []*cluster.HotRegion) Temperature {
	if len(regions) == 0 {
		return Cold
	}
	if v.grid.InRegions(pos, regions) {
		return Hot
	}

	gridSize := float64(v.grid.Size())
	nearest := math.MaxFloat64
	for _, r := range regions {
		if r.World != pos.World {
			continue
		}
		cx := (float64(r.MinX) + float64(r.MaxX)) / 2 * gridSize
		cz := (float64(r.MinZ) + float64(r.MaxZ)) / 2 * gridSize
		d := math.Hypot(pos.X-cx, pos.Z-cz)
		if d < nearest {
			nearest = d
		}
	}
	if nearest < gridSize*2 {
		return Normal
	}
	return Cold
}

type viewRange tuning.Range

func (r viewRange) pick(rng *rand.Rand) int {
	span := r.Max - r.Min + 1
	if span <= 1 {
		return r.Min
	}
	return r.Min + rng.Intn(span)
}

func (v *ViewDistances) rangeFor(t Temperature) viewRange {
	switch t {
	case Hot:
		return viewRange(v.cfg.Hot)
	case Normal:
		return viewRange(v.cfg.Normal)
	default:
		return viewRange(v.cfg.Cold)
	}
}

// UpdateMultiplier nudges the performance multiplier from the measured
// mspt/tps ratios, at most once per five seconds. Poor performance walks
// it down toward 0.7; stable performance walks it back to 1.0.
func (v *ViewDistances) UpdateMultiplier(mspt, targetMspt, tps, minTps float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if !v.lastMultiplier.IsZero() && now.Sub(v.lastMultiplier) < multiplierInterval {
		return
	}
	v.lastMultiplier = now

	msptRatio := mspt / targetMspt
	tpsRatio := tps / minTps
	ratio := msptRatio
	if tpsRatio > 0 && 1.0/tpsRatio > ratio {
		ratio = 1.0 / tpsRatio
	}

	switch {
	case ratio > 1.2:
		v.multiplier = math.Max(multiplierFloor, v.multiplier-0.1)
	case ratio < 0.8:
		v.multiplier = math.Min(1.0, v.multiplier+0.1)
	}
	if ratio >= 0.9 && ratio <= 1.1 && v.multiplier < 1.0 {
		v.multiplier = math.Min(1.0, v.multiplier+0.05)
	}
}

// Boost pins an agent's view distance for five minutes, overriding the
// temperature tables.
func (v *ViewDistances) Boost(agentID string, distance int) {
	distance = clamp(distance, minViewDistance, maxViewDistance)
	v.mu.Lock()
	v.boosts[agentID] = boost{distance: distance, expires: v.now().Add(boostTTL)}
	v.applyLocked(agentID, distance)
	v.mu.Unlock()
}

// CleanupExpiredBoosts drops boosts past their TTL.
func (v *ViewDistances) CleanupExpiredBoosts() {
	v.mu.Lock()
	now := v.now()
	for id, b := range v.boosts {
		if !now.Before(b.expires) {
			delete(v.boosts, id)
		}
	}
	v.mu.Unlock()
}

// ResetAll returns every tracked agent to the default view distance.
func (v *ViewDistances) ResetAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id := range v.current {
		delete(v.current, id)
		v.applyLocked(id, defaultViewDistance)
	}
	v.boosts = map[string]boost{}
}

// DistanceFor reports the last distance applied to an agent.
func (v *ViewDistances) DistanceFor(agentID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d, ok := v.current[agentID]; ok {
		return d
	}
	return defaultViewDistance
}

// Multiplier reports the current performance multiplier.
func (v *ViewDistances) Multiplier() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.multiplier
}

// ViewStats summarizes the applied distances.
type ViewStats struct {
	Agents      int
	AvgDistance float64
	Multiplier  float64
}

func (v *ViewDistances) Stats() ViewStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	st := ViewStats{Agents: len(v.current), Multiplier: v.multiplier}
	if st.Agents == 0 {
		return st
	}
	total := 0
	for _, d := range v.current {
		total += d
	}
	st.AvgDistance = float64(total) / float64(st.Agents)
	return st
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
