package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/suegt/dynregionperf/internal/sim/budget"
	"github.com/suegt/dynregionperf/internal/sim/cluster"
	"github.com/suegt/dynregionperf/internal/sim/policy"
)

// simHost is a self-contained in-memory world: random-walking agents,
// wandering entities, and a chunk table. It exists so the controller can
// run standalone; a real deployment implements the same interfaces
// against the live server.
type simHost struct {
	cfg simHostConfig
	rng *rand.Rand

	mu       sync.Mutex
	agents   []simAgent
	entities map[string][]policy.Entity
	chunks   map[budget.ChunkKey]bool
	views    map[string]int

	mspt float64
	tps  float64
}

type simHostConfig struct {
	Worlds         []string
	Agents         int
	Seed           int64
	TicksPerSecond int
}

type simAgent struct {
	id      string
	pos     cluster.Position
	heading float64 // radians
	// gather points keep a share of the agents crowded so hot regions form
	gather bool
}

func newSimHost(cfg simHostConfig) *simHost {
	if cfg.TicksPerSecond <= 0 {
		cfg.TicksPerSecond = 20
	}
	h := &simHost{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		entities: map[string][]policy.Entity{},
		chunks:   map[budget.ChunkKey]bool{},
		views:    map[string]int{},
		mspt:     10,
		tps:      float64(cfg.TicksPerSecond),
	}

	for i := 0; i < cfg.Agents; i++ {
		world := cfg.Worlds[i%len(cfg.Worlds)]
		a := simAgent{
			id:      fmt.Sprintf("agent-%03d", i),
			heading: h.rng.Float64() * 2 * math.Pi,
			gather:  i%3 != 0, // two thirds crowd together
		}
		if a.gather {
			a.pos = cluster.Position{World: world, X: h.rng.Float64() * 96, Z: h.rng.Float64() * 96}
		} else {
			a.pos = cluster.Position{World: world, X: h.rng.Float64()*4000 - 2000, Z: h.rng.Float64()*4000 - 2000}
		}
		h.agents = append(h.agents, a)
	}

	for _, w := range cfg.Worlds {
		for i := 0; i < 40; i++ {
			kind := policy.KindMob
			switch i % 3 {
			case 1:
				kind = policy.KindAnimal
			case 2:
				kind = policy.KindProjectile
			}
			h.entities[w] = append(h.entities[w], policy.Entity{
				ID:   fmt.Sprintf("%s-ent-%03d", w, i),
				Kind: kind,
				Pos:  cluster.Position{World: w, X: h.rng.Float64()*6000 - 3000, Z: h.rng.Float64()*6000 - 3000},
			})
		}
	}
	return h
}

func (h *simHost) Regionized() bool { return false }

// Run advances the walk at the host tick rate until ctx is cancelled.
func (h *simHost) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(h.cfg.TicksPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.step()
		}
	}
}

func (h *simHost) step() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.agents {
		a := &h.agents[i]
		if h.rng.Float64() < 0.05 {
			a.heading = h.rng.Float64() * 2 * math.Pi
		}
		speed := 4.0 / float64(h.cfg.TicksPerSecond) // ~4 blocks/sec
		a.pos.X += math.Cos(a.heading) * speed
		a.pos.Z += math.Sin(a.heading) * speed
		if a.gather {
			// drift back toward the gathering area
			a.pos.X -= a.pos.X * 0.002
			a.pos.Z -= a.pos.Z * 0.002
		}
	}

	// Synthetic load model: chunk count and population dominate the tick
	// cost. tps collapses once a tick overruns its slot.
	loaded := float64(len(h.chunks))
	population := float64(len(h.agents))
	h.mspt = 8 + 0.05*loaded + 0.3*population + h.rng.Float64()*4
	slot := 1000 / float64(h.cfg.TicksPerSecond)
	if h.mspt <= slot {
		h.tps = float64(h.cfg.TicksPerSecond)
	} else {
		h.tps = 1000 / h.mspt
	}
}

func (h *simHost) Agents() []budget.Agent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]budget.Agent, len(h.agents))
	for i, a := range h.agents {
		out[i] = budget.Agent{ID: a.id, Pos: a.pos}
	}
	return out
}

func (h *simHost) Worlds() []string { return h.cfg.Worlds }

func (h *simHost) TickPerf() (float64, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mspt, h.tps
}

func (h *simHost) LoadedChunkCounts() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := map[string]int{}
	for ck := range h.chunks {
		out[ck.World]++
	}
	return out
}

func (h *simHost) Entities(world string) []policy.Entity {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]policy.Entity, len(h.entities[world]))
	copy(out, h.entities[world])
	return out
}

func (h *simHost) RemoveEntities(world string, list []policy.Entity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	drop := make(map[string]bool, len(list))
	for _, e := range list {
		drop[e.ID] = true
	}
	kept := h.entities[world][:0]
	for _, e := range h.entities[world] {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	h.entities[world] = kept
}

func (h *simHost) Load(ck budget.ChunkKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chunks[ck] = true
	return true
}

func (h *simHost) Unload(ck budget.ChunkKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.chunks, ck)
	return true
}

func (h *simHost) Loaded(world string) []budget.ChunkKey {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []budget.ChunkKey
	for ck := range h.chunks {
		if ck.World == world {
			out = append(out, ck)
		}
	}
	return out
}

func (h *simHost) SetViewDistance(agentID string, chunks int) error {
	h.mu.Lock()
	h.views[agentID] = chunks
	h.mu.Unlock()
	return nil
}
