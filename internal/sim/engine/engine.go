// Package engine ties the clustering, budget, control, and policy
// components together and drives them on their own cadences. The engine
// owns no simulation state itself; it reads the host, runs the pipeline,
// and publishes results for the transport layer.
package engine

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/suegt/dynregionperf/internal/metrics"
	"github.com/suegt/dynregionperf/internal/sim/budget"
	"github.com/suegt/dynregionperf/internal/sim/capability"
	"github.com/suegt/dynregionperf/internal/sim/cluster"
	"github.com/suegt/dynregionperf/internal/sim/control"
	"github.com/suegt/dynregionperf/internal/sim/policy"
	"github.com/suegt/dynregionperf/internal/sim/tuning"
)

const (
	controlInterval = 5 * time.Second
	metricsInterval = time.Second
	cleanupInterval = time.Minute
)

// Host is the engine's view of the simulation it manages. Implementations
// must be safe for concurrent calls.
type Host interface {
	Agents() []budget.Agent
	Worlds() []string
	// TickPerf reports the host's current mean tick time in milliseconds
	// and its ticks-per-second.
	TickPerf() (mspt, tps float64)
	// LoadedChunkCounts reports loaded chunk counts per world, for the
	// metrics stream.
	LoadedChunkCounts() map[string]int
}

// EntityHost is implemented by hosts that expose their entities for
// cold-area culling. The engine selects; the host removes.
type EntityHost interface {
	Entities(world string) []policy.Entity
	RemoveEntities(world string, list []policy.Entity)
}

// Components are the pipeline stages the engine drives. Build wires a
// standard set from the tuning config.
type Components struct {
	Grid    *cluster.Grid
	Budget  *budget.Manager
	Control *control.System
	Views   *policy.ViewDistances
	Limits  *policy.Limiter
	Metrics *metrics.Collector
}

func Build(cfg tuning.Tuning, caps capability.Set, ops budget.ChunkOps, setter policy.ViewSetter, coll *metrics.Collector) Components {
	grid := cluster.NewGrid(cfg.GridSize, cfg.HotThresholdAgents)
	return Components{
		Grid:    grid,
		Budget:  budget.NewManager(cfg.ChunkBudgetPerHotRegionPerSec, cfg.TicksPerSecond, grid, ops),
		Control: control.New(cfg.TargetMspt, cfg.MinTps),
		Views:   policy.NewViewDistances(grid, cfg.ViewDistance, caps, setter),
		Limits:  policy.NewLimiter(grid, cfg.EntityCaps.Cold, cfg.RandomTickScale),
		Metrics: coll,
	}
}

type Engine struct {
	cfg  tuning.Tuning
	log  *log.Logger
	host Host
	c    Components

	regions atomic.Pointer[[]*cluster.HotRegion]
	cycles  atomic.Uint64

	knownAgents map[string]bool
}

func New(cfg tuning.Tuning, logger *log.Logger, host Host, c Components) *Engine {
	e := &Engine{
		cfg:         cfg,
		log:         logger,
		host:        host,
		c:           c,
		knownAgents: map[string]bool{},
	}
	empty := []*cluster.HotRegion{}
	e.regions.Store(&empty)
	return e
}

// Run drives the pipeline until the context is cancelled. The density
// scan runs at the configured tick interval; control, metrics, and
// cleanup run on their own tickers.
func (e *Engine) Run(ctx context.Context) error {
	scanInterval := time.Duration(e.cfg.ScanIntervalTicks) * time.Second / time.Duration(e.cfg.TicksPerSecond)
	scan := time.NewTicker(scanInterval)
	defer scan.Stop()
	ctrl := time.NewTicker(controlInterval)
	defer ctrl.Stop()
	sample := time.NewTicker(metricsInterval)
	defer sample.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	e.log.Printf("engine: scan interval %s, control %s", scanInterval, controlInterval)
	e.runCycle("scan", e.scanCycle)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-scan.C:
			e.runCycle("scan", e.scanCycle)
		case <-ctrl.C:
			e.runCycle("control", e.controlCycle)
		case <-sample.C:
			e.runCycle("metrics", e.metricsCycle)
		case <-cleanup.C:
			e.runCycle("cleanup", e.cleanupCycle)
		}
	}
}

// runCycle isolates one pipeline pass: a panic in any stage is logged
// and the next tick proceeds with the previous published state.
func (e *Engine) runCycle(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Printf("engine: %s cycle panicked: %v", name, r)
		}
	}()
	fn()
}

// scanCycle runs the full pipeline in order: cluster the agents, publish
// the region list, refresh budgets and movement, apply the view and
// entity policies, then drive each region's chunk work.
func (e *Engine) scanCycle() {
	agents := e.host.Agents()

	positions := make([]cluster.Position, len(agents))
	live := make(map[string]bool, len(agents))
	for i, a := range agents {
		positions[i] = a.Pos
		live[a.ID] = true
	}

	regions := e.c.Grid.Cluster(e.c.Grid.BuildDensityMap(positions))
	e.regions.Store(&regions)
	e.cycles.Add(1)

	e.c.Budget.UpdateBudgets(regions)
	for _, a := range agents {
		e.c.Budget.UpdateAgentMovement(a.ID, a.Pos)
	}
	for id := range e.knownAgents {
		if !live[id] {
			e.c.Budget.RemoveAgentMovement(id)
		}
	}
	e.knownAgents = live

	e.c.Views.Update(agents, regions)

	worlds := e.host.Worlds()
	e.c.Limits.UpdateLimits(regions, worlds)

	for _, r := range regions {
		e.c.Budget.ProcessRegionChunks(r, agents)
	}

	if eh, ok := e.host.(EntityHost); ok {
		for _, w := range worlds {
			if cull := e.c.Limits.CullList(w, eh.Entities(w), agents, regions); len(cull) > 0 {
				eh.RemoveEntities(w, cull)
			}
		}
	}

	if e.cfg.Debug.VerboseLogging {
		e.log.Printf("engine: scan %d: %d agents, %d hot regions, %d chunks loaded",
			e.cycles.Load(), len(agents), len(regions), e.c.Budget.TotalLoadedCount())
	}
}

// controlCycle feeds the performance signals to the controller and
// applies its output: budget rate, view multiplier, and the aggressive
// unload sweep.
func (e *Engine) controlCycle() {
	mspt, tps := e.host.TickPerf()
	regions := e.Regions()

	e.c.Control.Update(mspt, tps, len(regions), e.c.Budget.TotalLoadedCount())
	out := e.c.Control.Output()

	e.c.Budget.SetRateAdjustment(out.ChunkBudgetDelta)
	e.c.Views.UpdateMultiplier(mspt, e.cfg.TargetMspt, tps, e.cfg.MinTps)

	if out.AggressiveUnload {
		e.log.Printf("engine: aggressive unload: mspt=%.1f tps=%.1f %s", mspt, tps, out)
		e.c.Budget.AggressiveUnloadColdRegions(e.host.Agents())
	}
}

func (e *Engine) metricsCycle() {
	if e.c.Metrics == nil {
		return
	}
	mspt, tps := e.host.TickPerf()
	e.c.Metrics.Record(metrics.Sample{
		Tps:          tps,
		Mspt:         mspt,
		LoadedChunks: e.c.Budget.TotalLoadedCount(),
		HotRegions:   len(e.Regions()),
		Agents:       len(e.host.Agents()),
		WorldChunks:  e.host.LoadedChunkCounts(),
	})
}

func (e *Engine) cleanupCycle() {
	e.c.Views.CleanupExpiredBoosts()
}

// Regions returns the most recently published hot region list.
func (e *Engine) Regions() []*cluster.HotRegion {
	return *e.regions.Load()
}

// Cycles reports how many scan passes have completed.
func (e *Engine) Cycles() uint64 {
	return e.cycles.Load()
}

// RegionStatus is the transport-facing summary of one hot region.
type RegionStatus struct {
	Key     string  `json:"key"`
	World   string  `json:"world"`
	Cells   int     `json:"cells"`
	Agents  int     `json:"agents"`
	Area    int     `json:"area"`
	Density float64 `json:"density"`
	Budget  int     `json:"budget"`
	Loaded  int     `json:"loaded"`
}

// Status is the snapshot served over HTTP and the websocket feed.
type Status struct {
	Mspt         float64        `json:"mspt"`
	Tps          float64        `json:"tps"`
	Agents       int            `json:"agents"`
	LoadedChunks int            `json:"loaded_chunks"`
	Cycles       uint64         `json:"cycles"`
	Multiplier   float64        `json:"view_multiplier"`
	Aggressive   bool           `json:"aggressive_unload"`
	Regions      []RegionStatus `json:"regions"`
	WorldChunks  map[string]int `json:"world_chunks,omitempty"`
	WindowStats  metrics.Stats  `json:"window_stats"`
}

func (e *Engine) Status() Status {
	mspt, tps := e.host.TickPerf()
	regions := e.Regions()
	out := e.c.Control.Output()

	st := Status{
		Mspt:         mspt,
		Tps:          tps,
		Agents:       len(e.host.Agents()),
		LoadedChunks: e.c.Budget.TotalLoadedCount(),
		Cycles:       e.cycles.Load(),
		Multiplier:   e.c.Views.Multiplier(),
		Aggressive:   out.AggressiveUnload,
		WorldChunks:  e.host.LoadedChunkCounts(),
	}
	if e.c.Metrics != nil {
		st.WindowStats = e.c.Metrics.WindowStats(60)
	}
	for _, r := range regions {
		st.Regions = append(st.Regions, RegionStatus{
			Key:     r.Key(),
			World:   r.World,
			Cells:   len(r.Cells),
			Agents:  r.TotalAgents,
			Area:    r.Area(),
			Density: r.Density(),
			Budget:  e.c.Budget.BudgetFor(r),
			Loaded:  e.c.Budget.LoadedCount(r),
		})
	}
	return st
}
