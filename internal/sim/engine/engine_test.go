package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/suegt/dynregionperf/internal/metrics"
	"github.com/suegt/dynregionperf/internal/sim/budget"
	"github.com/suegt/dynregionperf/internal/sim/capability"
	"github.com/suegt/dynregionperf/internal/sim/cluster"
	"github.com/suegt/dynregionperf/internal/sim/policy"
	"github.com/suegt/dynregionperf/internal/sim/tuning"
)

type memOps struct {
	mu     sync.Mutex
	loaded map[budget.ChunkKey]bool
}

func newMemOps() *memOps { return &memOps{loaded: map[budget.ChunkKey]bool{}} }

func (o *memOps) Load(ck budget.ChunkKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loaded[ck] = true
	return true
}

func (o *memOps) Unload(ck budget.ChunkKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.loaded, ck)
	return true
}

func (o *memOps) Loaded(world string) []budget.ChunkKey {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []budget.ChunkKey
	for ck := range o.loaded {
		if ck.World == world {
			out = append(out, ck)
		}
	}
	return out
}

type memSetter struct {
	mu  sync.Mutex
	set map[string]int
}

func (s *memSetter) SetViewDistance(id string, chunks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		s.set = map[string]int{}
	}
	s.set[id] = chunks
	return nil
}

func (s *memSetter) distance(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set[id]
}

type fakeHost struct {
	mu       sync.Mutex
	agents   []budget.Agent
	entities map[string][]policy.Entity
	removed  []policy.Entity
	mspt     float64
	tps      float64
}

func (h *fakeHost) Agents() []budget.Agent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]budget.Agent, len(h.agents))
	copy(out, h.agents)
	return out
}

func (h *fakeHost) Worlds() []string { return []string{"world_1"} }

func (h *fakeHost) TickPerf() (float64, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mspt, h.tps
}

func (h *fakeHost) LoadedChunkCounts() map[string]int { return map[string]int{"world_1": 0} }

func (h *fakeHost) Entities(world string) []policy.Entity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entities[world]
}

func (h *fakeHost) RemoveEntities(world string, list []policy.Entity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, list...)
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func testEngine(host *fakeHost, ops budget.ChunkOps, setter policy.ViewSetter) *Engine {
	cfg := tuning.Defaults()
	c := Build(cfg, capability.Resolve("auto", false), ops, setter, metrics.NewCollector())
	return New(cfg, testLogger(), host, c)
}

func crowd(n int, world string, x, z float64) []budget.Agent {
	agents := make([]budget.Agent, n)
	for i := range agents {
		agents[i] = budget.Agent{
			ID:  string(rune('a' + i)),
			Pos: cluster.Position{World: world, X: x + float64(i), Z: z},
		}
	}
	return agents
}

func TestScanCyclePublishesRegionsAndLoadsChunks(t *testing.T) {
	host := &fakeHost{agents: crowd(4, "world_1", 10, 10), mspt: 20, tps: 20}
	ops := newMemOps()
	setter := &memSetter{}
	e := testEngine(host, ops, setter)

	e.scanCycle()

	regions := e.Regions()
	if len(regions) != 1 {
		t.Fatalf("regions: got %d want 1", len(regions))
	}
	if regions[0].TotalAgents != 4 {
		t.Fatalf("region agents: %d", regions[0].TotalAgents)
	}
	if e.Cycles() != 1 {
		t.Fatalf("cycles: %d", e.Cycles())
	}
	// A fresh region has no tokens yet: chunks are queued, not loaded.
	if e.c.Budget.TotalLoadedCount() != 0 {
		t.Fatalf("chunks loaded before any replenish: %d", e.c.Budget.TotalLoadedCount())
	}
	if setter.distance("a") == 0 {
		t.Fatalf("view distance not applied")
	}

	// After a second the budget replenishes and the queue drains.
	time.Sleep(1100 * time.Millisecond)
	e.scanCycle()
	if e.c.Budget.TotalLoadedCount() == 0 {
		t.Fatalf("no chunks loaded after replenish")
	}
}

func TestScanCycleDropsDepartedAgentMovement(t *testing.T) {
	host := &fakeHost{agents: crowd(4, "world_1", 10, 10), mspt: 20, tps: 20}
	e := testEngine(host, newMemOps(), &memSetter{})

	e.scanCycle()

	host.mu.Lock()
	host.agents = host.agents[1:] // "a" leaves
	host.mu.Unlock()
	e.scanCycle()

	host.mu.Lock()
	host.agents = append([]budget.Agent{{ID: "a", Pos: cluster.Position{World: "world_1", X: 100, Z: 10}}}, host.agents...)
	host.mu.Unlock()
	e.scanCycle()

	// "a" was removed in the second pass, so its third observation starts
	// a fresh state: zero velocity, prediction equal to the position.
	p, ok := e.c.Budget.PredictedPosition("a")
	if !ok {
		t.Fatalf("agent not re-tracked")
	}
	if p.X != 100 || p.Z != 10 {
		t.Fatalf("movement state survived removal: predicted %+v", p)
	}
}

func TestScanCycleCullsColdEntities(t *testing.T) {
	host := &fakeHost{
		agents: crowd(4, "world_1", 10, 10),
		mspt:   20, tps: 20,
		entities: map[string][]policy.Entity{},
	}
	// Far more cold mobs than the cap allows, all far from the agents.
	for i := 0; i < 70; i++ {
		host.entities["world_1"] = append(host.entities["world_1"], policy.Entity{
			ID:   fmt.Sprintf("mob%02d", i),
			Kind: policy.KindMob,
			Pos:  cluster.Position{World: "world_1", X: 5000 + float64(i), Z: 5000},
		})
	}
	e := testEngine(host, newMemOps(), &memSetter{})

	e.scanCycle()

	cold := tuning.Defaults().EntityCaps.Cold.Mobs
	if got := len(host.removed); got != 70-cold {
		t.Fatalf("culled: got %d want %d", got, 70-cold)
	}
}

func TestControlCycleAppliesOutput(t *testing.T) {
	host := &fakeHost{agents: crowd(4, "world_1", 10, 10), mspt: 120, tps: 8}
	ops := newMemOps()
	e := testEngine(host, ops, &memSetter{})

	e.scanCycle()
	time.Sleep(1100 * time.Millisecond)
	e.scanCycle()
	if e.c.Budget.TotalLoadedCount() == 0 {
		t.Fatalf("scan loaded nothing")
	}

	// Move the agents far away so every loaded chunk is cold, then let
	// the emergency path sweep them.
	host.mu.Lock()
	for i := range host.agents {
		host.agents[i].Pos = cluster.Position{World: "world_1", X: 90000, Z: 90000}
	}
	host.mu.Unlock()

	e.controlCycle()

	out := e.c.Control.Output()
	if !out.AggressiveUnload {
		t.Fatalf("expected aggressive unload for mspt=120 tps=8, got %s", out)
	}
	if e.c.Budget.TotalLoadedCount() != 0 {
		t.Fatalf("cold chunks survived the sweep: %d", e.c.Budget.TotalLoadedCount())
	}
}

func TestMetricsCycleRecordsSample(t *testing.T) {
	host := &fakeHost{agents: crowd(4, "world_1", 10, 10), mspt: 33, tps: 19}
	e := testEngine(host, newMemOps(), &memSetter{})

	e.scanCycle()
	e.metricsCycle()

	cur := e.c.Metrics.Current()
	if cur.Mspt != 33 || cur.Tps != 19 {
		t.Fatalf("sample perf: %+v", cur)
	}
	if cur.HotRegions != 1 || cur.Agents != 4 {
		t.Fatalf("sample counts: %+v", cur)
	}
}

func TestStatusSnapshot(t *testing.T) {
	host := &fakeHost{agents: crowd(4, "world_1", 10, 10), mspt: 30, tps: 19.5}
	e := testEngine(host, newMemOps(), &memSetter{})
	e.scanCycle()

	st := e.Status()
	if st.Agents != 4 || len(st.Regions) != 1 {
		t.Fatalf("status: %+v", st)
	}
	r := st.Regions[0]
	if r.Key != "world_1:0" || r.Agents != 4 {
		t.Fatalf("region status: %+v", r)
	}
	if st.Multiplier != 1.0 {
		t.Fatalf("multiplier: %v", st.Multiplier)
	}
}

func TestCyclePanicIsContained(t *testing.T) {
	host := &fakeHost{agents: crowd(4, "world_1", 10, 10), mspt: 20, tps: 20}
	e := testEngine(host, newMemOps(), &memSetter{})

	e.runCycle("boom", func() { panic("boom") })
	e.runCycle("scan", e.scanCycle)
	if e.Cycles() != 1 {
		t.Fatalf("scan did not run after a contained panic")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	host := &fakeHost{agents: crowd(4, "world_1", 10, 10), mspt: 20, tps: 20}
	cfg := tuning.Defaults()
	cfg.ScanIntervalTicks = 1 // 50ms scan for the test
	c := Build(cfg, capability.Resolve("auto", false), newMemOps(), &memSetter{}, metrics.NewCollector())
	e := New(cfg, testLogger(), host, c)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	err := e.Run(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("run returned %v", err)
	}
	if e.Cycles() < 2 {
		t.Fatalf("expected multiple scan cycles, got %d", e.Cycles())
	}
}
